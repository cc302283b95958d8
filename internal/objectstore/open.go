package objectstore

import (
	"context"
	"fmt"

	"github.com/Arsalanbashir831/ATECOWQT/internal/config"
)

// Open создаёт хранилище, выбранное в конфигурации (WQT_STORAGE_BACKEND).
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendLocal:
		return NewLocalStore(cfg.StorageLocalDir, cfg.StoragePublicURL)
	case config.StorageBackendGCS:
		return NewGCSStoreFromCredentials(ctx, cfg.GCSBucket, cfg.StoragePublicURL, cfg.GCSCredentialsFile)
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища %q", cfg.StorageBackend)
	}
}

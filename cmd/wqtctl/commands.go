package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Arsalanbashir831/ATECOWQT/internal/auth"
	"github.com/Arsalanbashir831/ATECOWQT/internal/config"
	"github.com/Arsalanbashir831/ATECOWQT/internal/database"
	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/journal"
	"github.com/Arsalanbashir831/ATECOWQT/internal/objectstore"
	"github.com/Arsalanbashir831/ATECOWQT/internal/qrcode"
	"github.com/Arsalanbashir831/ATECOWQT/internal/repository"
	"github.com/Arsalanbashir831/ATECOWQT/internal/service"
)

// rootCommand собирает дерево команд.
func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wqtctl",
		Short:         "Администрирование WQT",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		migrateCommand(),
		qrCommand(),
		journalCommand(),
		hashPasswordCommand(),
	)
	return rootCmd
}

// runtime — зависимости, поднятые из конфигурации окружения.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	records   *service.RecordService
	sweeper   *service.SweeperService
	closeFunc func()
}

func (r *runtime) Close() {
	if r.closeFunc != nil {
		r.closeFunc()
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, config.SetupLogger(cfg), nil
}

// bootstrap подключается к PostgreSQL и хранилищу так же, как сервер.
func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := objectstore.Open(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	jrn, err := journal.New(cfg.JournalDir, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	repo := repository.NewRecordRepository(pool)
	artifacts := service.NewArtifactPublisher(store,
		qrcode.NewRenderer(cfg.QRWidth, cfg.QRMargin),
		cfg.BaseViewURL, cfg.StorageTimeout, cfg.MaxPhotoSize, logger)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		records: service.NewRecordService(repo, repository.NewSequenceAllocator(pool),
			artifacts, jrn, service.NewRecordCache(cfg.CacheSize, cfg.CacheTTL), logger),
		sweeper: service.NewSweeperService(jrn, repo, artifacts,
			cfg.SweepInterval, 3*cfg.StorageTimeout, logger),
		closeFunc: pool.Close,
	}, nil
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return database.Migrate(cfg, logger)
		},
	}
}

func qrCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Операции с QR-кодами",
	}
	cmd.AddCommand(qrRegenerateCommand(), qrDecodeCommand())
	return cmd
}

func qrRegenerateCommand() *cobra.Command {
	var kindNames []string

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Перегенерировать QR-коды записей",
		Long:  "Перерисовывает QR-коды всех записей (или указанных видов) под текущий WQT_BASE_VIEW_URL.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds, err := resolveKinds(kindNames)
			if err != nil {
				return err
			}

			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			results, err := rt.records.RegenerateQR(cmd.Context(), kinds...)
			printRegenerateResults(cmd.OutOrStdout(), results)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&kindNames, "kind", nil,
		"Вид записей ("+strings.Join(model.KindNames(), ", ")+"), по умолчанию все")
	return cmd
}

// resolveKinds переводит имена видов в реестровые значения.
func resolveKinds(names []string) ([]*model.Kind, error) {
	kinds := make([]*model.Kind, 0, len(names))
	for _, name := range names {
		k, ok := model.KindByName(name)
		if !ok {
			return nil, fmt.Errorf("неизвестный вид записи %q", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func printRegenerateResults(w io.Writer, results []service.RegenerateResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%-12s обновлено: %d, ошибок: %d\n", r.Kind, r.Updated, r.Failed)
	}
}

func qrDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file.png>",
		Short: "Прочитать содержимое QR-кода из изображения",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			payload, err := qrcode.Decode(data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			return nil
		},
	}
}

func journalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Журнал незавершённых операций",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Выполнить один проход сверки журнала",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			res := rt.sweeper.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(),
				"откачено: %d, подтверждено: %d, доведено: %d, очищено: %d, ошибок: %d\n",
				res.RolledBack, res.Committed, res.RolledForward, res.Cleaned, res.Errors)
			if res.Errors > 0 {
				return fmt.Errorf("сверка завершилась с ошибками: %d", res.Errors)
			}
			return nil
		},
	})
	return cmd
}

func hashPasswordCommand() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Вывести bcrypt-хэш пароля для WQT_*_PASSWORD_HASH",
		Long:  "Хэширует пароль из аргумента или, если аргумент не задан, первую строку stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", 0, "Стоимость bcrypt (0 — по умолчанию)")
	return cmd
}

func readPassword(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("пустой пароль")
	}
	return password, nil
}

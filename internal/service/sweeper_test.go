package service

import (
	"context"
	"image/color"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/journal"
)

func newTestSweeper(env *testEnv) *SweeperService {
	return NewSweeperService(env.journal, env.repo, env.svc.Artifacts(), time.Hour, 0, testLogger())
}

func TestSweeperRunOnce_NothingPending(t *testing.T) {
	env := newTestEnv(t)

	result := newTestSweeper(env).RunOnce(context.Background())
	if result.RolledBack != 0 || result.RolledForward != 0 || result.Committed != 0 || result.Errors != 0 {
		t.Errorf("результат = %+v", result)
	}
}

func TestSweeperRunOnce_RollsBackOrphanedInsert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kind := model.KindCard

	// Сбой после загрузки артефактов, до записи строки
	photoKey, qrKey := kind.PhotoObject("c-5"), kind.QRObject("c-5")
	for _, key := range []string{photoKey, qrKey} {
		if _, err := env.store.Put(ctx, key, "image/png", strings.NewReader("data")); err != nil {
			t.Fatal(err)
		}
	}
	entry, err := env.journal.Begin(journal.Start{
		Operation: journal.OpInsert,
		Kind:      kind.Name,
		PublicID:  "c-5",
		Folder:    kind.ArtifactFolder("c-5"),
		Artifacts: []string{photoKey, qrKey},
	})
	if err != nil {
		t.Fatal(err)
	}

	result := newTestSweeper(env).RunOnce(ctx)
	if result.RolledBack != 1 || result.Errors != 0 {
		t.Fatalf("результат = %+v", result)
	}
	if env.store.len() != 0 {
		t.Errorf("осиротевшие артефакты не удалены: %d", env.store.len())
	}
	// Завершённая запись очищена в том же проходе
	if _, err := env.journal.Get(entry.TransactionID); err == nil {
		t.Error("запись журнала не очищена")
	}
}

func TestSweeperRunOnce_CommitsCompletedInsert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.Insert(ctx, InsertParams{Kind: model.KindCard, Photo: testPhoto(t, color.White)})
	if err != nil {
		t.Fatal(err)
	}
	// Сбой между записью строки и commit журнала
	if _, err := env.journal.Begin(journal.Start{
		Operation: journal.OpInsert, Kind: "card", PublicID: rec.PublicID,
		Artifacts: []string{model.KindCard.QRObject(rec.PublicID)},
	}); err != nil {
		t.Fatal(err)
	}

	result := newTestSweeper(env).RunOnce(ctx)
	if result.Committed != 1 || result.RolledBack != 0 {
		t.Fatalf("результат = %+v", result)
	}
	if _, ok := env.store.get(model.KindCard.QRObject(rec.PublicID)); !ok {
		t.Error("артефакт существующей записи удалён")
	}
}

func TestSweeperRunOnce_RollsForwardDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.Insert(ctx, InsertParams{Kind: model.KindSteelCard, Photo: testPhoto(t, color.White)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.journal.Begin(journal.Start{
		Operation: journal.OpDelete, Kind: "steel-card", PublicID: rec.PublicID,
	}); err != nil {
		t.Fatal(err)
	}

	result := newTestSweeper(env).RunOnce(ctx)
	if result.RolledForward != 1 || result.Errors != 0 {
		t.Fatalf("результат = %+v", result)
	}
	if ok, _ := env.repo.Exists(ctx, model.KindSteelCard, rec.PublicID); ok {
		t.Error("строка не удалена")
	}
	if env.store.len() != 0 {
		t.Errorf("артефакты не удалены: %d", env.store.len())
	}
}

func TestSweeperRunOnce_KeepsEntryOnStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.journal.Begin(journal.Start{
		Operation: journal.OpInsert, Kind: "card", PublicID: "c-3",
		Artifacts: []string{model.KindCard.QRObject("c-3")},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.store.failDelete["-qr.png"] = errStorage("delete")

	result := newTestSweeper(env).RunOnce(ctx)
	if result.Errors != 1 {
		t.Fatalf("результат = %+v", result)
	}
	got, err := env.journal.Get(entry.TransactionID)
	if err != nil || got.Status != journal.StatusPending {
		t.Errorf("запись журнала = %+v, %v", got, err)
	}
}

func TestSweeperRunOnce_RespectsGracePeriod(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.journal.Begin(journal.Start{Operation: journal.OpInsert, Kind: "card", PublicID: "c-1"}); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeperService(env.journal, env.repo, env.svc.Artifacts(), time.Hour, time.Hour, testLogger())
	result := sw.RunOnce(context.Background())
	if result.RolledBack != 0 {
		t.Errorf("свежая операция разобрана: %+v", result)
	}
}

func TestSweeperStartStop_NoLeaks(t *testing.T) {
	env := newTestEnv(t)
	// Горутина очистки кэша окружения уже запущена и учитывается здесь
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sw := NewSweeperService(env.journal, env.repo, env.svc.Artifacts(), 10*time.Millisecond, 0, testLogger())

	sw.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sw.Stop()
}

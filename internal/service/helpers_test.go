package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
	"github.com/Arsalanbashir831/ATECOWQT/internal/journal"
	"github.com/Arsalanbashir831/ATECOWQT/internal/objectstore"
	"github.com/Arsalanbashir831/ATECOWQT/internal/qrcode"
	"github.com/Arsalanbashir831/ATECOWQT/internal/repository"
)

const testBaseViewURL = "https://wqt.example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Хранилище в памяти ---

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	// failPut / failDelete — ошибка для объектов с указанным суффиксом имени
	failPut    map[string]error
	failDelete map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		objects:    map[string][]byte{},
		failPut:    map[string]error{},
		failDelete: map[string]error{},
	}
}

func (s *memStore) Backend() string { return "memory" }

func (s *memStore) Put(_ context.Context, key, _ string, r io.Reader) (*objectstore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for suffix, err := range s.failPut {
		if strings.HasSuffix(key, suffix) {
			return nil, err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.puts++
	s.objects[key] = data
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	return &objectstore.Object{
		Key:      key,
		URL:      "https://objects.test/" + key + "?v=" + checksum[:12],
		Size:     int64(len(data)),
		Checksum: checksum,
	}, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for suffix, err := range s.failDelete {
		if strings.HasSuffix(key, suffix) {
			return err
		}
	}
	delete(s.objects, key)
	return nil
}

func (s *memStore) DeleteFolder(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix+"/") {
			return objectstore.ErrFolderNotEmpty
		}
	}
	return nil
}

func (s *memStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *memStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// --- Репозиторий в памяти ---

type memRepo struct {
	mu      sync.Mutex
	records map[string]*model.Record
	clock   time.Time
	gets    int
}

func newMemRepo() *memRepo {
	return &memRepo{
		records: map[string]*model.Record{},
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func repoKey(kind, publicID string) string { return kind + "/" + publicID }

func (r *memRepo) Create(_ context.Context, rec *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.Kind == rec.Kind &&
			(existing.SequenceNumber == rec.SequenceNumber || existing.PublicID == rec.PublicID) {
			return fmt.Errorf("%w: запись %s уже существует", repository.ErrConflict, rec.PublicID)
		}
	}
	r.clock = r.clock.Add(time.Second)
	rec.CreatedAt, rec.UpdatedAt = r.clock, r.clock
	rec.UpdatedBy = rec.CreatedBy
	c := *rec
	c.Fields = rec.Fields.Clone()
	r.records[repoKey(rec.Kind, rec.PublicID)] = &c
	return nil
}

func (r *memRepo) GetByPublicID(_ context.Context, kind *model.Kind, publicID string) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	rec, ok := r.records[repoKey(kind.Name, publicID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *rec
	c.Fields = rec.Fields.Clone()
	return &c, nil
}

func (r *memRepo) Exists(_ context.Context, kind *model.Kind, publicID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[repoKey(kind.Name, publicID)]
	return ok, nil
}

func (r *memRepo) Update(_ context.Context, rec *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[repoKey(rec.Kind, rec.PublicID)]
	if !ok {
		return repository.ErrNotFound
	}
	r.clock = r.clock.Add(time.Second)
	existing.PhotoURL = rec.PhotoURL
	existing.QRCodeURL = rec.QRCodeURL
	existing.Fields = rec.Fields.Clone()
	existing.UpdatedBy = rec.UpdatedBy
	existing.UpdatedAt = r.clock

	rec.SequenceNumber = existing.SequenceNumber
	rec.CreatedBy = existing.CreatedBy
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *memRepo) UpdateQRCode(_ context.Context, kind *model.Kind, publicID, qrURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[repoKey(kind.Name, publicID)]
	if !ok {
		return repository.ErrNotFound
	}
	existing.QRCodeURL = qrURL
	return nil
}

func (r *memRepo) Delete(_ context.Context, kind *model.Kind, publicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoKey(kind.Name, publicID)
	if _, ok := r.records[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, key)
	return nil
}

func (r *memRepo) List(_ context.Context, kind *model.Kind, limit, offset int) ([]*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Record
	for _, rec := range r.records {
		if rec.Kind == kind.Name {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SequenceNumber > out[j].SequenceNumber
	})
	if limit > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:min(offset+limit, len(out))]
	}
	return out, nil
}

func (r *memRepo) Count(_ context.Context, kind *model.Kind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Kind == kind.Name {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) maxSequence(kind string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.Kind == kind && rec.SequenceNumber > n {
			n = rec.SequenceNumber
		}
	}
	return n
}

// --- Аллокатор номеров ---

type memAllocator struct {
	mu    sync.Mutex
	repo  *memRepo
	last     map[string]int64
	calls    int
	releases int
	// stuck — всегда возвращать этот номер (имитация рассинхронизации)
	stuck int64
}

func newMemAllocator(repo *memRepo) *memAllocator {
	return &memAllocator{repo: repo, last: map[string]int64{}}
}

func (a *memAllocator) Allocate(_ context.Context, kind *model.Kind) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.stuck > 0 {
		return a.stuck, nil
	}
	a.last[kind.Name]++
	return a.last[kind.Name], nil
}

func (a *memAllocator) Resync(_ context.Context, kind *model.Kind) error {
	maxSeq := a.repo.maxSequence(kind.Name)
	a.mu.Lock()
	defer a.mu.Unlock()
	if maxSeq > a.last[kind.Name] {
		a.last[kind.Name] = maxSeq
	}
	return nil
}

func (a *memAllocator) Release(_ context.Context, kind *model.Kind, seq int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases++
	if a.last[kind.Name] == seq {
		a.last[kind.Name]--
	}
	return nil
}

func (a *memAllocator) releaseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releases
}

func (a *memAllocator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// --- Окружение ---

type testEnv struct {
	svc     *RecordService
	repo    *memRepo
	alloc   *memAllocator
	store   *memStore
	journal *journal.Journal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	jrn, err := journal.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("journal.New() ошибка: %v", err)
	}

	repo := newMemRepo()
	alloc := newMemAllocator(repo)
	store := newMemStore()
	artifacts := NewArtifactPublisher(store, qrcode.NewRenderer(200, 1), testBaseViewURL+"/", 5*time.Second, 1<<20, logger)

	return &testEnv{
		svc:     NewRecordService(repo, alloc, artifacts, jrn, NewRecordCache(100, time.Minute), logger),
		repo:    repo,
		alloc:   alloc,
		store:   store,
		journal: jrn,
	}
}

// testPhoto возвращает PNG-изображение заданного цвета.
func testPhoto(t *testing.T, c color.Color) *Photo {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return &Photo{Reader: &buf, Filename: "photo.png"}
}

func errStorage(op string) error {
	return errors.New(op + ": service unavailable")
}

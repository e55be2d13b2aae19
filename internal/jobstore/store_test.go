package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/flock"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(Options{
		Addr:          mr.Addr(),
		TTL:           7 * 24 * time.Hour,
		ReconnectMax:  2,
		ReconnectWait: 10 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func newJob(id string, ts OrderKey, created time.Time) *Job {
	return &Job{
		ID:        id,
		Topic:     "Newton's First Law",
		Level:     8,
		Status:    StatusGeneratingNarration,
		CreatedAt: created,
		UpdatedAt: created,
		Timestamp: ts,
	}
}

func TestStore_SaveGetDelete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	job := newJob("01JA", 100, time.Unix(100, 0).UTC())
	text := "An object at rest stays at rest."
	job.NarrationText = &text
	if err := s.Save(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL(jobKey("01JA")); ttl != 7*24*time.Hour {
		t.Fatalf("expected 7d ttl, got %s", ttl)
	}

	got, err := s.Get(ctx, "01JA")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.NarrationText == nil || *got.NarrationText != text || got.Script != nil {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.Delete(ctx, "01JA"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.Get(ctx, "01JA")
	if err != nil || got != nil {
		t.Fatalf("expected absent after delete, got %v %v", got, err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("expected empty index, got %d", n)
	}
}

func TestStore_GetUnknownIsAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v %v", got, err)
	}
}

func TestStore_ListAllOrdering(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Unix(1000, 0) }

	must := func(j *Job) {
		t.Helper()
		if err := s.Save(ctx, j); err != nil {
			t.Fatalf("save %s: %v", j.ID, err)
		}
	}
	must(newJob("a", 100, time.Time{}))
	must(newJob("b", 300, time.Time{}))
	must(newJob("c", 200, time.Time{}))
	// no ordering timestamp: falls back to created_at, then to now
	must(newJob("d", 0, time.Unix(250, 0)))
	must(newJob("e", 0, time.Time{}))

	jobs, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"e", "b", "d", "c", "a"}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, id := range want {
		if jobs[i].ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, jobs[i].ID)
		}
	}
	if jobs[2].Timestamp != 250 {
		t.Fatalf("expected repaired timestamp 250, got %v", jobs[2].Timestamp)
	}
}

func TestStore_ExpireDropsLapsedIndexEntries(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, newJob("old", 1, time.Time{})); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(7*24*time.Hour + time.Second)
	if err := s.Save(ctx, newJob("new", 2, time.Time{})); err != nil {
		t.Fatal(err)
	}

	if got, _ := s.Get(ctx, "old"); got != nil {
		t.Fatalf("expected expired record to be absent")
	}
	if jobs, _ := s.ListAll(ctx); len(jobs) != 1 || jobs[0].ID != "new" {
		t.Fatalf("list should skip expired records: %v", jobs)
	}
	n, err := s.Expire(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed, got %d %v", n, err)
	}
	if c, _ := s.Count(ctx); c != 1 {
		t.Fatalf("expected index size 1, got %d", c)
	}
}

func TestStore_ReconnectsAfterOutage(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, newJob("01JB", 5, time.Time{})); err != nil {
		t.Fatal(err)
	}

	mr.Close()
	if _, err := s.Get(ctx, "01JB"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while down, got %v", err)
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	got, err := s.Get(ctx, "01JB")
	if err != nil || got == nil {
		t.Fatalf("expected store to heal after restart, got %v %v", got, err)
	}
}

func TestOrderKey_TolerantDecode(t *testing.T) {
	cases := map[string]OrderKey{
		`{"timestamp": 12.5}`:                   12.5,
		`{"timestamp": "42"}`:                   42,
		`{"timestamp": null}`:                   0,
		`{"timestamp": "not a time"}`:           0,
		`{"timestamp": {"x": 1}}`:               0,
		`{"timestamp": "1970-01-01T00:01:40Z"}`: 100,
	}
	for in, want := range cases {
		var j Job
		if err := json.Unmarshal([]byte(in), &j); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if j.Timestamp != want {
			t.Fatalf("%s: want %v got %v", in, want, j.Timestamp)
		}
	}
}

func TestMirror_WriteLoadAll(t *testing.T) {
	m, err := NewMirror(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	job := newJob("01JC", 7, time.Unix(7, 0).UTC())
	if err := m.Write(job); err != nil {
		t.Fatalf("write: %v", err)
	}
	job.Status = StatusPending
	if err := m.Write(job); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := m.Load("01JC")
	if err != nil || got == nil || got.Status != StatusPending {
		t.Fatalf("load: %+v %v", got, err)
	}
	if missing, err := m.Load("nope"); err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing copy")
	}

	if err := os.WriteFile(filepath.Join(m.Dir(), "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	all, bad, err := m.All()
	if err != nil || len(all) != 1 || len(bad) != 1 {
		t.Fatalf("all: %d jobs %v bad %v", len(all), bad, err)
	}

	entries, _ := os.ReadDir(m.Dir())
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReconcile_RestoresWithRemainingTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	m, err := NewMirror(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	recent := newJob("recent", 10, now.Add(-time.Hour))
	stale := newJob("stale", 11, now.Add(-8*24*time.Hour))
	live := newJob("live", 12, now)
	for _, j := range []*Job{recent, stale, live} {
		if err := m.Write(j); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Save(ctx, live); err != nil {
		t.Fatal(err)
	}
	// index member whose record is already gone
	mr.ZAdd(indexKey, 1, "ghost")

	res, err := Reconcile(ctx, s, m, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Mirrored != 3 || res.Restored != 1 || res.Present != 1 || res.Stale != 1 || res.Expired != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	ttl := mr.TTL(jobKey("recent"))
	if ttl <= 166*time.Hour || ttl > 167*time.Hour {
		t.Fatalf("expected remaining retention near 167h, got %s", ttl)
	}
	if mr.Exists(jobKey("stale")) {
		t.Fatalf("record past retention must not be restored")
	}
}

func TestReconcile_LockedElsewhere(t *testing.T) {
	s, _ := newTestStore(t)
	m, err := NewMirror(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	other := flock.New(filepath.Join(m.Dir(), ".reconcile.lock"))
	if ok, err := other.TryLock(); err != nil || !ok {
		t.Fatalf("pre-lock: %v %v", ok, err)
	}
	defer other.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := Reconcile(ctx, s, m, nil); !errors.Is(err, ErrReconcileLocked) {
		t.Fatalf("expected ErrReconcileLocked, got %v", err)
	}
}

package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"defir/internal/adapters/store/docfile"
	"defir/internal/casestore"
	"defir/internal/domain/model"
	"defir/internal/services/evidence"
)

func newController(t *testing.T, at time.Time) (*Controller, *casestore.Store) {
	t.Helper()
	store := casestore.New(docfile.New(filepath.Join(t.TempDir(), "cases.json")))
	return New(store).WithClock(func() time.Time { return at }), store
}

func mustEvidence(t *testing.T, content, name string) model.EvidenceEntry {
	t.Helper()
	e, err := evidence.NewBuilder().Build(evidence.Upload{Content: []byte(content), FileName: name})
	if err != nil {
		t.Fatalf("build evidence: %v", err)
	}
	return e
}

func TestOpenCase(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 789_000_000, time.UTC)
	c, _ := newController(t, at)

	rec, err := c.OpenCase(context.Background(), mustEvidence(t, "hello", "call.wav"), " Alice ")
	if err != nil {
		t.Fatalf("OpenCase: %v", err)
	}
	if rec.CaseID != "FIR-1770091506789" {
		t.Fatalf("case id = %s", rec.CaseID)
	}
	if rec.Status != model.StatusOpen || len(rec.Evidence) != 1 || len(rec.Timeline) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Victim != "Alice" {
		t.Fatalf("victim = %q", rec.Victim)
	}
	tl := rec.Timeline[0]
	if tl.Note != NoteOpened || tl.EvidenceCount != 1 || tl.PrevHash != "" {
		t.Fatalf("unexpected timeline entry: %+v", tl)
	}
	if tl.ChainHash != ChainHash(rec.CaseID, rec.Evidence, tl) {
		t.Fatalf("chain hash mismatch")
	}
	if len(rec.SimulatedTxID) != 66 {
		t.Fatalf("simulated tx id = %q", rec.SimulatedTxID)
	}
}

func TestAddEvidenceThenConclude(t *testing.T) {
	ctx := context.Background()
	at := time.Now().UTC()
	c, store := newController(t, at)

	rec, err := c.OpenCase(ctx, mustEvidence(t, "a", "a.txt"), "")
	if err != nil {
		t.Fatalf("OpenCase: %v", err)
	}
	ev := mustEvidence(t, "b", "b.txt")
	if _, err := c.AddEvidence(ctx, rec.CaseID, ev); err != nil {
		t.Fatalf("AddEvidence: %v", err)
	}
	out, err := c.SetStatus(ctx, rec.CaseID, model.StatusConcluded, "resolved")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got, err := store.Get(ctx, rec.CaseID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Evidence) != 2 || len(got.Timeline) != 3 {
		t.Fatalf("evidence=%d timeline=%d", len(got.Evidence), len(got.Timeline))
	}
	if got.Status != model.StatusConcluded || out.Status != model.StatusConcluded {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Timeline[1].Note != "New evidence added: "+ev.FileName || got.Timeline[1].Status != model.StatusOpen {
		t.Fatalf("unexpected add-evidence entry: %+v", got.Timeline[1])
	}
	if got.Timeline[1].EvidenceCount != 2 || got.Timeline[2].EvidenceCount != 2 {
		t.Fatalf("evidence counts not recorded")
	}
	if got.Timeline[2].Note != "resolved" {
		t.Fatalf("note = %q", got.Timeline[2].Note)
	}
	for i := 1; i < len(got.Timeline); i++ {
		if got.Timeline[i].PrevHash != got.Timeline[i-1].ChainHash {
			t.Fatalf("timeline[%d] not linked", i)
		}
		if got.Timeline[i].ChainHash != ChainHash(got.CaseID, got.Evidence, got.Timeline[i]) {
			t.Fatalf("timeline[%d] chain hash mismatch after reload", i)
		}
	}
}

func TestSetStatus_DefaultsAndErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, time.Now())
	rec, err := c.OpenCase(ctx, mustEvidence(t, "x", "x"), "")
	if err != nil {
		t.Fatalf("OpenCase: %v", err)
	}

	out, err := c.SetStatus(ctx, rec.CaseID, model.StatusInProgress, "  ")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if last := out.LastTimeline(); last.Note != "Case status updated to in-progress" {
		t.Fatalf("default note = %q", last.Note)
	}

	// 原地迁移同样允许，并追加一条时间线
	out, err = c.SetStatus(ctx, rec.CaseID, model.StatusInProgress, "")
	if err != nil {
		t.Fatalf("same-status SetStatus: %v", err)
	}
	if len(out.Timeline) != 3 {
		t.Fatalf("timeline = %d, want 3", len(out.Timeline))
	}

	if _, err := c.SetStatus(ctx, rec.CaseID, model.CaseStatus("closed"), ""); !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := c.SetStatus(ctx, "FIR-0", model.StatusOpen, ""); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.AddEvidence(ctx, "FIR-0", mustEvidence(t, "y", "y")); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c, _ := newController(t, t1)
	rec, err := c.OpenCase(ctx, mustEvidence(t, "x", "x"), "")
	if err != nil {
		t.Fatalf("OpenCase: %v", err)
	}

	// 时钟回拨
	back := c.WithClock(func() time.Time { return t1.Add(-time.Hour) })
	out, err := back.SetStatus(ctx, rec.CaseID, model.StatusInProgress, "")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if out.Timeline[1].Timestamp.Before(out.Timeline[0].Timestamp) {
		t.Fatalf("timeline went backwards")
	}
}

func TestConcurrentAddEvidence_NoLostUpdate(t *testing.T) {
	ctx := context.Background()
	c, store := newController(t, time.Now())
	rec, err := c.OpenCase(ctx, mustEvidence(t, "seed", "seed"), "")
	if err != nil {
		t.Fatalf("OpenCase: %v", err)
	}

	const n = 20
	evs := make([]model.EvidenceEntry, n)
	for i := range evs {
		evs[i] = mustEvidence(t, "same bytes", "dup.bin")
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(ev model.EvidenceEntry) {
			defer wg.Done()
			if _, err := c.AddEvidence(ctx, rec.CaseID, ev); err != nil {
				t.Errorf("AddEvidence: %v", err)
			}
		}(evs[i])
	}
	wg.Wait()

	got, err := store.Get(ctx, rec.CaseID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Evidence) != n+1 || len(got.Timeline) != n+1 {
		t.Fatalf("evidence=%d timeline=%d, want %d", len(got.Evidence), len(got.Timeline), n+1)
	}
	seen := map[string]bool{}
	for _, e := range got.Evidence {
		if seen[e.EvidenceID] {
			t.Fatalf("duplicate evidence id %s", e.EvidenceID)
		}
		seen[e.EvidenceID] = true
	}
}

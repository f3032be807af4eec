package auditverify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"defir/internal/adapters/blobstore"
	"defir/internal/domain/model"
	"defir/internal/platform/cid"
	"defir/internal/platform/hash"
	"defir/internal/services/lifecycle"
)

func chainedCase() model.CaseRecord {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := model.CaseRecord{
		CaseID:   "FIR-1",
		OpenedAt: at,
		Evidence: []model.EvidenceEntry{
			{EvidenceID: "e1", ContentID: cid.Address([]byte("a")), FileName: "a", SHA256: hash.Bytes([]byte("a"))},
			{EvidenceID: "e2", ContentID: cid.Address([]byte("b")), FileName: "b", SHA256: hash.Bytes([]byte("b"))},
		},
	}
	steps := []struct {
		status model.CaseStatus
		note   string
		count  int
	}{
		{model.StatusOpen, lifecycle.NoteOpened, 1},
		{model.StatusOpen, "New evidence added: b", 2},
		{model.StatusConcluded, "resolved", 2},
	}
	prev := ""
	for i, s := range steps {
		e := model.TimelineEntry{
			Timestamp:     at.Add(time.Duration(i) * time.Second),
			Status:        s.status,
			Note:          s.note,
			EvidenceCount: s.count,
			PrevHash:      prev,
		}
		e.ChainHash = lifecycle.ChainHash(rec.CaseID, rec.Evidence, e)
		prev = e.ChainHash
		rec.Timeline = append(rec.Timeline, e)
	}
	rec.Status = model.StatusConcluded
	return rec
}

func TestVerifyTimeline_OK(t *testing.T) {
	res := VerifyTimeline(chainedCase())
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if res.Total != 3 || res.Failed != 0 {
		t.Fatalf("unexpected counters: %+v", res)
	}
}

func TestVerifyTimeline_Mismatch(t *testing.T) {
	rec := chainedCase()
	rec.Timeline[1].Note = "tampered"

	res := VerifyTimeline(rec)
	if res.OK {
		t.Fatalf("expected NOT OK")
	}
	if res.ChainHashFailed != 1 || res.Failures[0].Index != 1 {
		t.Fatalf("expected one chain hash mismatch at index 1, got %+v", res)
	}

	rec = chainedCase()
	rec.Timeline[2].PrevHash = "deadbeef"
	res = VerifyTimeline(rec)
	if res.OK || res.PrevHashFailed != 1 {
		t.Fatalf("expected prev hash mismatch, got %+v", res)
	}

	rec = chainedCase()
	rec.Status = model.StatusOpen
	res = VerifyTimeline(rec)
	if res.OK || !res.StatusMismatch {
		t.Fatalf("expected status mismatch, got %+v", res)
	}
}

type mapBlobs map[string][]byte

func (m mapBlobs) Get(_ context.Context, id string) ([]byte, error) {
	b, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrBlobNotFound, id)
	}
	return b, nil
}

func TestVerifyEvidence(t *testing.T) {
	good := []byte("good")
	tampered := []byte("orig")
	rec := chainedCase()
	rec.Evidence = []model.EvidenceEntry{
		{EvidenceID: "e1", ContentID: cid.Address(good), SHA256: hash.Bytes(good)},
		{EvidenceID: "e2", ContentID: cid.Address(tampered), SHA256: hash.Bytes(tampered)},
		{EvidenceID: "e3", ContentID: cid.Address([]byte("gone"))},
	}
	blobs := mapBlobs{
		cid.Address(good):     good,
		cid.Address(tampered): []byte("changed"),
	}

	res := VerifyEvidence(context.Background(), rec, blobs)
	if res.OK {
		t.Fatalf("expected NOT OK")
	}
	if res.Matched != 1 || res.Mismatch != 1 || res.Missing != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}
	if res.Items[0].Status != "ok" || res.Items[1].Status != "mismatch" || res.Items[2].Status != "missing" {
		t.Fatalf("unexpected items: %+v", res.Items)
	}

	all := VerifyCase(context.Background(), rec, blobs)
	if all.OK || !all.Timeline.OK {
		t.Fatalf("unexpected case result: %+v", all)
	}
}

// 把证据引用改指向另一份已存在的 blob：字节复核会通过，时间线链必须失败。
func TestVerifyCase_RepointedEvidenceBreaksChain(t *testing.T) {
	blobs := mapBlobs{
		cid.Address([]byte("a")): []byte("a"),
		cid.Address([]byte("b")): []byte("b"),
	}
	rec := chainedCase()
	if res := VerifyCase(context.Background(), rec, blobs); !res.OK {
		t.Fatalf("untouched case should verify: %+v", res)
	}

	rec.Evidence[1].ContentID = rec.Evidence[0].ContentID
	rec.Evidence[1].SHA256 = rec.Evidence[0].SHA256
	res := VerifyCase(context.Background(), rec, blobs)
	if !res.Evidence.OK {
		t.Fatalf("evidence bytes still match the re-pointed blob: %+v", res.Evidence)
	}
	if res.OK || res.Timeline.ChainHashFailed != 2 || res.Timeline.Failures[0].Index != 1 {
		t.Fatalf("expected chain mismatch from index 1, got %+v", res.Timeline)
	}

	rec = chainedCase()
	rec.Evidence[0].EvidenceID = "e9"
	if res := VerifyTimeline(rec); res.OK || res.Failures[0].Index != 0 {
		t.Fatalf("expected initial evidence id change to fail at index 0, got %+v", res)
	}
}

func TestVerifyTimeline_NoteWhitespaceIsBound(t *testing.T) {
	rec := chainedCase()
	rec.Timeline[2].Note = " " + rec.Timeline[2].Note + "\n"
	res := VerifyTimeline(rec)
	if res.OK || res.ChainHashFailed != 1 || res.Failures[0].Index != 2 {
		t.Fatalf("expected whitespace-only note edit to fail at index 2, got %+v", res)
	}
}

package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"

	"defir/internal/adapters/blobstore"
	"defir/internal/adapters/store/docfile"
	"defir/internal/casestore"
	"defir/internal/domain/model"
	"defir/internal/platform/cid"
	"defir/internal/services/ingest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(dir, "blobs"), blobstore.CompressionZstd)
	if err != nil {
		t.Fatalf("blobstore: %v", err)
	}
	svc := ingest.New(ingest.Options{
		Store: casestore.New(docfile.New(filepath.Join(dir, "cases.json"))),
		Blobs: blobs,
	})
	return NewServer(svc, nil)
}

func TestTools_CaseFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	content := []byte("hello")

	_, created, err := s.handleCreate(ctx, nil, CreateInput{
		ContentBase64: base64.StdEncoding.EncodeToString(content),
		FileName:      "call.wav",
		Victim:        "Asha",
	})
	if err != nil {
		t.Fatalf("case_create: %v", err)
	}
	if created.ContentID != cid.Address(content) || created.CaseID == "" {
		t.Fatalf("unexpected create output: %+v", created)
	}

	_, added, err := s.handleAddEvidence(ctx, nil, AddEvidenceInput{
		CaseID:        created.CaseID,
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("statement")),
		FileName:      "statement.txt",
	})
	if err != nil {
		t.Fatalf("case_add_evidence: %v", err)
	}
	if added.Evidence.Type != string(model.EvidenceDocument) || added.Evidence.GatewayURL == "" {
		t.Fatalf("unexpected evidence: %+v", added.Evidence)
	}

	_, st, err := s.handleSetStatus(ctx, nil, SetStatusInput{CaseID: created.CaseID, Status: "under_evaluation"})
	if err != nil {
		t.Fatalf("case_set_status: %v", err)
	}
	if st.Status != string(model.StatusUnderEvaluation) || len(st.Timeline) != 3 {
		t.Fatalf("unexpected status output: %+v", st)
	}

	_, got, err := s.handleGet(ctx, nil, GetInput{CaseID: created.CaseID})
	if err != nil {
		t.Fatalf("case_get: %v", err)
	}
	if got.Victim != "Asha" || len(got.Evidence) != 2 || got.Evidence[0].Type != string(model.EvidenceAudio) {
		t.Fatalf("unexpected case: %+v", got)
	}

	_, list, err := s.handleList(ctx, nil, ListInput{})
	if err != nil {
		t.Fatalf("case_list: %v", err)
	}
	if len(list.Cases) != 1 || list.Cases[0].EvidenceCount != 2 {
		t.Fatalf("unexpected list: %+v", list)
	}

	_, v, err := s.handleVerify(ctx, nil, VerifyInput{CaseID: created.CaseID})
	if err != nil {
		t.Fatalf("case_verify: %v", err)
	}
	if !v.OK || v.EvidenceMatched != 2 {
		t.Fatalf("unexpected verify output: %+v", v)
	}
}

func TestTools_Errors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.handleCreate(ctx, nil, CreateInput{ContentBase64: "!!not base64"}); err == nil {
		t.Fatalf("expected base64 error")
	}
	if _, _, err := s.handleCreate(ctx, nil, CreateInput{}); !errors.Is(err, model.ErrEmptyPayload) {
		t.Fatalf("empty content: got %v", err)
	}
	if _, _, err := s.handleGet(ctx, nil, GetInput{CaseID: "FIR-1"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown case: got %v", err)
	}

	_, created, err := s.handleCreate(ctx, nil, CreateInput{ContentBase64: base64.StdEncoding.EncodeToString([]byte("x"))})
	if err != nil {
		t.Fatalf("case_create: %v", err)
	}
	if _, _, err := s.handleSetStatus(ctx, nil, SetStatusInput{CaseID: created.CaseID, Status: "closed"}); !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("invalid status: got %v", err)
	}
}

package casereport

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"defir/internal/domain/model"
	"defir/internal/platform/hash"
	"defir/internal/services/auditverify"
)

func TestGenerateCasePDF_CreatesFile(t *testing.T) {
	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	rec := model.CaseRecord{
		CaseID:        "FIR-1",
		Victim:        "张三",
		OpenedAt:      at,
		Status:        model.StatusInProgress,
		SimulatedTxID: "0xabc",
		Evidence: []model.EvidenceEntry{{
			EvidenceID: "e1", ContentID: "QmTest", FileName: "1-000000001-call.wav",
			OriginalName: "call.wav", UploadedAt: at, Type: model.EvidenceAudio, SHA256: "00", SizeBytes: 3,
		}},
		Timeline: []model.TimelineEntry{
			{Timestamp: at, Status: model.StatusOpen, Note: "case opened with initial evidence", EvidenceCount: 1, ChainHash: "h1"},
			{Timestamp: at.Add(time.Minute), Status: model.StatusInProgress, Note: "assigned", EvidenceCount: 1, PrevHash: "h1", ChainHash: "h2"},
		},
	}
	v := auditverify.VerifyCase(context.Background(), rec, nopBlobs{})

	out := filepath.Join(t.TempDir(), "reports")
	res, err := GenerateCasePDF(context.Background(), rec, Options{OutDir: out, Operator: "tester", Note: "unit", GatewayBase: "https://gw/ipfs", Verify: &v})
	if err != nil {
		t.Fatalf("GenerateCasePDF: %v", err)
	}
	if res.PDFPath == "" || res.PDFSHA256 == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	raw, err := os.ReadFile(res.PDFPath)
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		t.Fatalf("output is not a pdf")
	}
	if hash.Bytes(raw) != res.PDFSHA256 || int64(len(raw)) != res.SizeBytes {
		t.Fatalf("sha/size mismatch")
	}
}

func TestGenerateCasePDF_Validation(t *testing.T) {
	if _, err := GenerateCasePDF(context.Background(), model.CaseRecord{}, Options{OutDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error for empty case id")
	}
	if _, err := GenerateCasePDF(context.Background(), model.CaseRecord{CaseID: "FIR-1"}, Options{}); err == nil {
		t.Fatalf("expected error for empty out dir")
	}
}

type nopBlobs struct{}

func (nopBlobs) Get(context.Context, string) ([]byte, error) { return []byte("abc"), nil }

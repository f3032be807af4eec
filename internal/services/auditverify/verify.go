// Package auditverify 对案件做完整性复核：时间线 hash 链 + 证据字节重算。
package auditverify

import (
	"context"
	"errors"
	"strings"
	"time"

	"defir/internal/adapters/blobstore"
	"defir/internal/domain/model"
	"defir/internal/platform/cid"
	"defir/internal/platform/hash"
	"defir/internal/services/lifecycle"
)

// FailureItem 表示一次时间线链校验失败的明细项（用于 API/CLI 展示）。
type FailureItem struct {
	Index int `json:"index"`

	Timestamp time.Time        `json:"timestamp"`
	Status    model.CaseStatus `json:"status"`
	Note      string           `json:"note"`

	// PrevHashMismatch 表示当前记录的 prev_hash 与上一条记录 chain_hash 不一致。
	PrevHashMismatch bool   `json:"prev_hash_mismatch"`
	ExpectedPrevHash string `json:"expected_prev_hash,omitempty"`
	ActualPrevHash   string `json:"actual_prev_hash,omitempty"`

	// ChainHashMismatch 表示当前记录 chain_hash 与按公式重算的值不一致。
	ChainHashMismatch bool   `json:"chain_hash_mismatch"`
	ExpectedChainHash string `json:"expected_chain_hash,omitempty"`
	ActualChainHash   string `json:"actual_chain_hash,omitempty"`

	Message string `json:"message,omitempty"`
}

// Result 是时间线链校验结果。
type Result struct {
	OK bool `json:"ok"`

	Total int `json:"total"`

	Failed          int `json:"failed"`
	PrevHashFailed  int `json:"prev_hash_failed"`
	ChainHashFailed int `json:"chain_hash_failed"`

	// StatusMismatch 表示案件 status 与最后一条时间线不一致。
	StatusMismatch bool `json:"status_mismatch"`

	LastChainHash string `json:"last_chain_hash,omitempty"`

	Failures []FailureItem `json:"failures,omitempty"`
}

// VerifyTimeline 对案件时间线做强校验：
// 1) prev_hash 连续性
// 2) 重算 chain_hash 并与存量字段对比
// 3) 案件 status 等于最后一条时间线的 status
//
// 重算公式与 lifecycle.ChainHash 共用，保证写入与校验一致。
func VerifyTimeline(rec model.CaseRecord) Result {
	res := Result{
		OK:       true,
		Total:    len(rec.Timeline),
		Failures: []FailureItem{},
	}

	prev := ""
	for i, it := range rec.Timeline {
		expectedPrev := prev
		actualPrev := strings.TrimSpace(it.PrevHash)

		recomputed := it
		recomputed.PrevHash = expectedPrev
		expectedChain := lifecycle.ChainHash(rec.CaseID, rec.Evidence, recomputed)
		actualChain := strings.TrimSpace(it.ChainHash)

		prevMismatch := actualPrev != expectedPrev
		chainMismatch := actualChain != expectedChain

		if prevMismatch || chainMismatch {
			res.OK = false
			res.Failed++
			if prevMismatch {
				res.PrevHashFailed++
			}
			if chainMismatch {
				res.ChainHashFailed++
			}

			msg := ""
			switch {
			case prevMismatch && chainMismatch:
				msg = "prev_hash and chain_hash mismatch"
			case prevMismatch:
				msg = "prev_hash mismatch"
			case chainMismatch:
				msg = "chain_hash mismatch"
			}

			res.Failures = append(res.Failures, FailureItem{
				Index:     i,
				Timestamp: it.Timestamp,
				Status:    it.Status,
				Note:      it.Note,

				PrevHashMismatch: prevMismatch,
				ExpectedPrevHash: expectedPrev,
				ActualPrevHash:   actualPrev,

				ChainHashMismatch: chainMismatch,
				ExpectedChainHash: expectedChain,
				ActualChainHash:   actualChain,

				Message: msg,
			})
		}

		// 链推进：以记录中存量的 chain_hash 为准，这样可以把“错误链”继续向后验证并定位更多异常。
		prev = actualChain
		res.LastChainHash = actualChain
	}

	if last := rec.LastTimeline(); last == nil || last.Status != rec.Status {
		res.OK = false
		res.StatusMismatch = true
	}
	return res
}

// BlobReader 按 CID 读取证据字节。
type BlobReader interface {
	Get(ctx context.Context, contentID string) ([]byte, error)
}

// EvidenceCheck 是单条证据的复核结果。
type EvidenceCheck struct {
	EvidenceID string `json:"evidence_id"`
	ContentID  string `json:"content_id"`
	FileName   string `json:"file_name"`

	// Status: ok | mismatch | missing | error
	Status         string `json:"status"`
	ComputedCID    string `json:"computed_cid,omitempty"`
	ComputedSHA256 string `json:"computed_sha256,omitempty"`
	Message        string `json:"message,omitempty"`
}

// EvidenceResult 汇总证据复核。
type EvidenceResult struct {
	OK       bool            `json:"ok"`
	Total    int             `json:"total"`
	Matched  int             `json:"matched"`
	Mismatch int             `json:"mismatch"`
	Missing  int             `json:"missing"`
	Errors   int             `json:"errors"`
	Items    []EvidenceCheck `json:"items"`
}

// VerifyEvidence 读取每条证据的字节，重算 CID 与 SHA-256 并与记录对比。
func VerifyEvidence(ctx context.Context, rec model.CaseRecord, blobs BlobReader) EvidenceResult {
	res := EvidenceResult{
		OK:    true,
		Total: len(rec.Evidence),
		Items: make([]EvidenceCheck, 0, len(rec.Evidence)),
	}
	for _, ev := range rec.Evidence {
		item := EvidenceCheck{
			EvidenceID: ev.EvidenceID,
			ContentID:  ev.ContentID,
			FileName:   ev.FileName,
		}
		content, err := blobs.Get(ctx, ev.ContentID)
		switch {
		case errors.Is(err, blobstore.ErrBlobNotFound):
			item.Status = "missing"
			item.Message = "evidence bytes not found"
			res.Missing++
		case err != nil:
			item.Status = "error"
			item.Message = err.Error()
			res.Errors++
		default:
			item.ComputedCID = cid.Address(content)
			item.ComputedSHA256 = hash.Bytes(content)
			if item.ComputedCID == ev.ContentID && (ev.SHA256 == "" || item.ComputedSHA256 == ev.SHA256) {
				item.Status = "ok"
				res.Matched++
			} else {
				item.Status = "mismatch"
				item.Message = "content id or sha256 mismatch"
				res.Mismatch++
			}
		}
		res.Items = append(res.Items, item)
	}
	res.OK = res.Matched == res.Total
	return res
}

// CaseResult 是案件整体复核结果。
type CaseResult struct {
	CaseID     string         `json:"case_id"`
	OK         bool           `json:"ok"`
	VerifiedAt time.Time      `json:"verified_at"`
	Timeline   Result         `json:"timeline"`
	Evidence   EvidenceResult `json:"evidence"`
}

// VerifyCase 同时校验时间线链与证据字节。
func VerifyCase(ctx context.Context, rec model.CaseRecord, blobs BlobReader) CaseResult {
	tl := VerifyTimeline(rec)
	ev := VerifyEvidence(ctx, rec, blobs)
	return CaseResult{
		CaseID:     rec.CaseID,
		OK:         tl.OK && ev.OK,
		VerifiedAt: time.Now().UTC(),
		Timeline:   tl,
		Evidence:   ev,
	}
}

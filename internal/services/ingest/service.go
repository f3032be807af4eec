// Package ingest 是对外的五个边界操作：立案、列表、详情、追加证据、变更状态。
//
// 各传输层（HTTP、MCP、CLI）只调用本包，不直接接触 casestore。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"defir/internal/adapters/blobstore"
	"defir/internal/casestore"
	"defir/internal/domain/model"
	"defir/internal/services/evidence"
	"defir/internal/services/lifecycle"
)

// DefaultGatewayBase 是展示用的网关地址前缀（只拼 URL，不做任何网络发布）。
const DefaultGatewayBase = "https://cloudflare-ipfs.com/ipfs"

// Options 是 Service 的依赖。Store 与 Blobs 必填。
type Options struct {
	Store       *casestore.Store
	Blobs       *blobstore.Store
	Logger      *slog.Logger
	GatewayBase string
	Clock       func() time.Time
}

type Service struct {
	store       *casestore.Store
	blobs       *blobstore.Store
	lifecycle   *lifecycle.Controller
	builder     *evidence.Builder
	log         *slog.Logger
	gatewayBase string
}

func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	gw := strings.TrimRight(strings.TrimSpace(opts.GatewayBase), "/")
	if gw == "" {
		gw = DefaultGatewayBase
	}
	lc := lifecycle.New(opts.Store)
	b := evidence.NewBuilder()
	if opts.Clock != nil {
		lc = lc.WithClock(opts.Clock)
		b = b.WithClock(opts.Clock)
	}
	return &Service{
		store:       opts.Store,
		blobs:       opts.Blobs,
		lifecycle:   lc,
		builder:     b,
		log:         log.With("component", "ingest"),
		gatewayBase: gw,
	}
}

// CreateCaseRequest 是立案输入。Type 为空时初始证据按 audio 标注。
type CreateCaseRequest struct {
	Content     []byte
	FileName    string
	Victim      string
	Type        string
	Description string
}

// CreateCaseResult 是立案结果。
type CreateCaseResult struct {
	CaseID        string           `json:"case_id"`
	ContentID     string           `json:"content_id"`
	EvidenceID    string           `json:"evidence_id"`
	SimulatedTxID string           `json:"simulated_tx_id"`
	GatewayURL    string           `json:"gateway_url"`
	Case          model.CaseRecord `json:"-"`
}

// CreateCase 以一份上传内容立案。
func (s *Service) CreateCase(ctx context.Context, req CreateCaseRequest) (*CreateCaseResult, error) {
	typ := req.Type
	if strings.TrimSpace(typ) == "" {
		typ = string(model.EvidenceAudio)
	}
	ev, err := s.ingestBytes(ctx, evidence.Upload{
		Content:     req.Content,
		FileName:    req.FileName,
		Type:        typ,
		Description: req.Description,
	})
	if err != nil {
		return nil, s.fail("create case", err)
	}

	rec, err := s.lifecycle.OpenCase(ctx, ev, req.Victim)
	if err != nil {
		return nil, s.fail("create case", err)
	}
	s.log.InfoContext(ctx, "case opened",
		"case_id", rec.CaseID,
		"content_id", ev.ContentID,
		"evidence_id", ev.EvidenceID,
		"size_bytes", ev.SizeBytes,
	)
	return &CreateCaseResult{
		CaseID:        rec.CaseID,
		ContentID:     ev.ContentID,
		EvidenceID:    ev.EvidenceID,
		SimulatedTxID: rec.SimulatedTxID,
		GatewayURL:    s.GatewayURL(ev.ContentID),
		Case:          rec,
	}, nil
}

// ListCases 返回全部案件摘要（最新在前）。
func (s *Service) ListCases(ctx context.Context) ([]model.CaseSummary, error) {
	out, err := s.store.List(ctx)
	if err != nil {
		return nil, s.fail("list cases", err)
	}
	return out, nil
}

// ListRecords 从同一份快照返回全部案件的完整记录（最新在前）。
func (s *Service) ListRecords(ctx context.Context) ([]model.CaseRecord, error) {
	out, err := s.store.Records(ctx)
	if err != nil {
		return nil, s.fail("list records", err)
	}
	return out, nil
}

// GetCase 返回案件完整记录。
func (s *Service) GetCase(ctx context.Context, caseID string) (*model.CaseRecord, error) {
	rec, err := s.store.Get(ctx, strings.TrimSpace(caseID))
	if err != nil {
		return nil, s.fail("get case", err)
	}
	return &rec, nil
}

// AddEvidenceRequest 是追加证据输入。
type AddEvidenceRequest struct {
	CaseID      string
	Content     []byte
	FileName    string
	Type        string
	Description string
}

// AddEvidence 向已有案件追加证据，返回新证据记录。
func (s *Service) AddEvidence(ctx context.Context, req AddEvidenceRequest) (*model.EvidenceEntry, error) {
	caseID := strings.TrimSpace(req.CaseID)
	upload := evidence.Upload{
		Content:     req.Content,
		FileName:    req.FileName,
		Type:        req.Type,
		Description: req.Description,
	}
	if len(upload.Content) == 0 {
		return nil, s.fail("add evidence", fmt.Errorf("add evidence to %s: %w", caseID, model.ErrEmptyPayload))
	}
	// 先确认案件存在，避免为不存在的案件写入字节；真正的存在性检查仍在 WithCase 内。
	if _, err := s.store.Get(ctx, caseID); err != nil {
		return nil, s.fail("add evidence", err)
	}

	ev, err := s.ingestBytes(ctx, upload)
	if err != nil {
		return nil, s.fail("add evidence", err)
	}
	if _, err := s.lifecycle.AddEvidence(ctx, caseID, ev); err != nil {
		return nil, s.fail("add evidence", err)
	}
	s.log.InfoContext(ctx, "evidence added",
		"case_id", caseID,
		"content_id", ev.ContentID,
		"evidence_id", ev.EvidenceID,
		"size_bytes", ev.SizeBytes,
	)
	return &ev, nil
}

// SetStatusResult 是状态变更结果。
type SetStatusResult struct {
	CaseID   string                `json:"case_id"`
	Status   model.CaseStatus      `json:"status"`
	Timeline []model.TimelineEntry `json:"timeline"`
}

// SetStatus 变更案件状态。status 接受 "in-progress" / "in_progress" / "InProgress" 等写法。
func (s *Service) SetStatus(ctx context.Context, caseID, status, note string) (*SetStatusResult, error) {
	st, err := model.ParseCaseStatus(status)
	if err != nil {
		return nil, s.fail("set status", err)
	}
	rec, err := s.lifecycle.SetStatus(ctx, strings.TrimSpace(caseID), st, note)
	if err != nil {
		return nil, s.fail("set status", err)
	}
	s.log.InfoContext(ctx, "case status updated", "case_id", rec.CaseID, "status", rec.Status)
	return &SetStatusResult{CaseID: rec.CaseID, Status: rec.Status, Timeline: rec.Timeline}, nil
}

// OpenEvidence 按 CID 读取证据原始字节。
func (s *Service) OpenEvidence(ctx context.Context, contentID string) ([]byte, error) {
	b, err := s.blobs.Get(ctx, strings.TrimSpace(contentID))
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, fmt.Errorf("%w: evidence %s", model.ErrNotFound, contentID)
		}
		return nil, s.fail("open evidence", err)
	}
	return b, nil
}

// GatewayURL 拼接展示用网关地址。
func (s *Service) GatewayURL(contentID string) string {
	return s.gatewayBase + "/" + contentID
}

// Blobs 返回证据字节存储（导出与校验使用）。
func (s *Service) Blobs() *blobstore.Store {
	return s.blobs
}

// ingestBytes 构建证据记录并把字节写入 blob 存储。必须在案件变更提交之前完成：
// 变更失败时只会留下一个无引用的 blob（按 CID 去重，无害），不会留下半条记录。
func (s *Service) ingestBytes(ctx context.Context, u evidence.Upload) (model.EvidenceEntry, error) {
	ev, err := s.builder.Build(u)
	if err != nil {
		return model.EvidenceEntry{}, err
	}
	created, err := s.blobs.Put(ctx, ev.ContentID, u.Content)
	if err != nil {
		return model.EvidenceEntry{}, fmt.Errorf("store evidence bytes: %w", err)
	}
	if !created {
		s.log.DebugContext(ctx, "evidence bytes already stored", "content_id", ev.ContentID)
	}
	return ev, nil
}

// fail 记录失败日志。ErrMalformedStore 意味着持久化数据可能已经受损，按告警级别记录。
func (s *Service) fail(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrMalformedStore):
		s.log.Error("case store is malformed", "op", op, "alarm", true, "err", err)
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrEmptyPayload):
		s.log.Debug("request rejected", "op", op, "err", err)
	default:
		s.log.Warn("operation failed", "op", op, "err", err)
	}
	return err
}

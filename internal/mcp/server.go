// Package mcp 通过 MCP（stdio）暴露案件操作，供 AI 助手或自动化脚本调用。
package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"defir/internal/app"
	"defir/internal/domain/model"
	"defir/internal/services/auditverify"
	"defir/internal/services/ingest"
)

// Server 把 Ingestion Service 包装为 MCP 工具集。
type Server struct {
	server *mcp.Server
	svc    *ingest.Service
	log    *slog.Logger
}

// NewServer 创建 MCP server 并注册全部工具。
func NewServer(svc *ingest.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "defir",
		Version: app.Version,
	}, nil)

	s := &Server{
		server: mcpServer,
		svc:    svc,
		log:    logger.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

// Run 以 stdio transport 运行，直到 ctx 结束或客户端断开。
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp server starting", "transport", "stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "case_create",
		Description: "Open a new case from one piece of evidence (content is base64)",
	}, s.handleCreate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "case_list",
		Description: "List all cases, newest first",
	}, s.handleList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "case_get",
		Description: "Get the full record of a case including evidence and timeline",
	}, s.handleGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "case_add_evidence",
		Description: "Append a piece of evidence to an existing case (content is base64)",
	}, s.handleAddEvidence)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "case_set_status",
		Description: "Change the status of a case: open, in-progress, under-evaluation or concluded",
	}, s.handleSetStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "case_verify",
		Description: "Recompute the timeline hash chain and re-hash stored evidence of a case",
	}, s.handleVerify)
}

// Input/Output types

type CreateInput struct {
	ContentBase64 string `json:"content_base64" jsonschema:"evidence bytes encoded as standard base64"`
	FileName      string `json:"file_name,omitempty" jsonschema:"original file name of the evidence"`
	Victim        string `json:"victim,omitempty" jsonschema:"name of the complainant"`
	Type          string `json:"type,omitempty" jsonschema:"evidence type: audio, document, image or other (default audio)"`
	Description   string `json:"description,omitempty" jsonschema:"free text description of the evidence"`
}

type CreateOutput struct {
	CaseID        string `json:"case_id"`
	ContentID     string `json:"content_id"`
	EvidenceID    string `json:"evidence_id"`
	SimulatedTxID string `json:"simulated_tx_id"`
	GatewayURL    string `json:"gateway_url"`
}

type ListInput struct{}

type CaseSummary struct {
	CaseID        string `json:"case_id"`
	Victim        string `json:"victim,omitempty"`
	Status        string `json:"status"`
	OpenedAt      string `json:"opened_at"`
	UpdatedAt     string `json:"updated_at"`
	EvidenceCount int    `json:"evidence_count"`
}

type ListOutput struct {
	Cases []CaseSummary `json:"cases"`
}

type GetInput struct {
	CaseID string `json:"case_id" jsonschema:"case id, for example FIR-1770091506789"`
}

type Evidence struct {
	EvidenceID   string `json:"evidence_id"`
	ContentID    string `json:"content_id"`
	FileName     string `json:"file_name"`
	OriginalName string `json:"original_name,omitempty"`
	UploadedAt   string `json:"uploaded_at"`
	Type         string `json:"type"`
	Description  string `json:"description"`
	SHA256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
	GatewayURL   string `json:"gateway_url"`
}

type TimelineEntry struct {
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	Note          string `json:"note"`
	EvidenceCount int    `json:"evidence_count"`
	ChainHash     string `json:"chain_hash"`
}

type CaseOutput struct {
	CaseID        string          `json:"case_id"`
	Victim        string          `json:"victim,omitempty"`
	OpenedAt      string          `json:"opened_at"`
	Status        string          `json:"status"`
	SimulatedTxID string          `json:"simulated_tx_id,omitempty"`
	Evidence      []Evidence      `json:"evidence"`
	Timeline      []TimelineEntry `json:"timeline"`
}

type AddEvidenceInput struct {
	CaseID        string `json:"case_id" jsonschema:"case id to append evidence to"`
	ContentBase64 string `json:"content_base64" jsonschema:"evidence bytes encoded as standard base64"`
	FileName      string `json:"file_name,omitempty" jsonschema:"original file name of the evidence"`
	Type          string `json:"type,omitempty" jsonschema:"evidence type: audio, document, image or other (default document)"`
	Description   string `json:"description,omitempty" jsonschema:"free text description of the evidence"`
}

type AddEvidenceOutput struct {
	CaseID   string   `json:"case_id"`
	Evidence Evidence `json:"evidence"`
}

type SetStatusInput struct {
	CaseID string `json:"case_id" jsonschema:"case id"`
	Status string `json:"status" jsonschema:"new status: open, in-progress, under-evaluation or concluded"`
	Note   string `json:"note,omitempty" jsonschema:"optional timeline note"`
}

type SetStatusOutput struct {
	CaseID   string          `json:"case_id"`
	Status   string          `json:"status"`
	Timeline []TimelineEntry `json:"timeline"`
}

type VerifyInput struct {
	CaseID string `json:"case_id" jsonschema:"case id"`
}

type VerifyOutput struct {
	CaseID           string `json:"case_id"`
	OK               bool   `json:"ok"`
	TimelineOK       bool   `json:"timeline_ok"`
	TimelineFailed   int    `json:"timeline_failed"`
	EvidenceTotal    int    `json:"evidence_total"`
	EvidenceMatched  int    `json:"evidence_matched"`
	EvidenceMismatch int    `json:"evidence_mismatch"`
	EvidenceMissing  int    `json:"evidence_missing"`
}

// Tool handlers

func (s *Server) handleCreate(ctx context.Context, req *mcp.CallToolRequest, input CreateInput) (*mcp.CallToolResult, CreateOutput, error) {
	content, err := decodeContent(input.ContentBase64)
	if err != nil {
		return nil, CreateOutput{}, err
	}
	res, err := s.svc.CreateCase(ctx, ingest.CreateCaseRequest{
		Content:     content,
		FileName:    input.FileName,
		Victim:      input.Victim,
		Type:        input.Type,
		Description: input.Description,
	})
	if err != nil {
		return nil, CreateOutput{}, fmt.Errorf("failed to create case: %w", err)
	}
	return nil, CreateOutput{
		CaseID:        res.CaseID,
		ContentID:     res.ContentID,
		EvidenceID:    res.EvidenceID,
		SimulatedTxID: res.SimulatedTxID,
		GatewayURL:    res.GatewayURL,
	}, nil
}

func (s *Server) handleList(ctx context.Context, req *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, ListOutput, error) {
	rows, err := s.svc.ListCases(ctx)
	if err != nil {
		return nil, ListOutput{}, fmt.Errorf("failed to list cases: %w", err)
	}
	out := ListOutput{Cases: make([]CaseSummary, 0, len(rows))}
	for _, c := range rows {
		out.Cases = append(out.Cases, CaseSummary{
			CaseID:        c.CaseID,
			Victim:        c.Victim,
			Status:        string(c.Status),
			OpenedAt:      formatTime(c.OpenedAt),
			UpdatedAt:     formatTime(c.UpdatedAt),
			EvidenceCount: c.EvidenceCount,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGet(ctx context.Context, req *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, CaseOutput, error) {
	rec, err := s.svc.GetCase(ctx, input.CaseID)
	if err != nil {
		return nil, CaseOutput{}, fmt.Errorf("failed to get case: %w", err)
	}
	out := CaseOutput{
		CaseID:        rec.CaseID,
		Victim:        rec.Victim,
		OpenedAt:      formatTime(rec.OpenedAt),
		Status:        string(rec.Status),
		SimulatedTxID: rec.SimulatedTxID,
		Evidence:      make([]Evidence, 0, len(rec.Evidence)),
		Timeline:      toTimeline(rec.Timeline),
	}
	for _, ev := range rec.Evidence {
		out.Evidence = append(out.Evidence, s.toEvidence(ev))
	}
	return nil, out, nil
}

func (s *Server) handleAddEvidence(ctx context.Context, req *mcp.CallToolRequest, input AddEvidenceInput) (*mcp.CallToolResult, AddEvidenceOutput, error) {
	content, err := decodeContent(input.ContentBase64)
	if err != nil {
		return nil, AddEvidenceOutput{}, err
	}
	ev, err := s.svc.AddEvidence(ctx, ingest.AddEvidenceRequest{
		CaseID:      input.CaseID,
		Content:     content,
		FileName:    input.FileName,
		Type:        input.Type,
		Description: input.Description,
	})
	if err != nil {
		return nil, AddEvidenceOutput{}, fmt.Errorf("failed to add evidence: %w", err)
	}
	return nil, AddEvidenceOutput{CaseID: strings.TrimSpace(input.CaseID), Evidence: s.toEvidence(*ev)}, nil
}

func (s *Server) handleSetStatus(ctx context.Context, req *mcp.CallToolRequest, input SetStatusInput) (*mcp.CallToolResult, SetStatusOutput, error) {
	res, err := s.svc.SetStatus(ctx, input.CaseID, input.Status, input.Note)
	if err != nil {
		return nil, SetStatusOutput{}, fmt.Errorf("failed to set status: %w", err)
	}
	return nil, SetStatusOutput{
		CaseID:   res.CaseID,
		Status:   string(res.Status),
		Timeline: toTimeline(res.Timeline),
	}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcp.CallToolRequest, input VerifyInput) (*mcp.CallToolResult, VerifyOutput, error) {
	rec, err := s.svc.GetCase(ctx, input.CaseID)
	if err != nil {
		return nil, VerifyOutput{}, fmt.Errorf("failed to verify case: %w", err)
	}
	res := auditverify.VerifyCase(ctx, *rec, s.svc.Blobs())
	return nil, VerifyOutput{
		CaseID:           res.CaseID,
		OK:               res.OK,
		TimelineOK:       res.Timeline.OK,
		TimelineFailed:   res.Timeline.Failed,
		EvidenceTotal:    res.Evidence.Total,
		EvidenceMatched:  res.Evidence.Matched,
		EvidenceMismatch: res.Evidence.Mismatch,
		EvidenceMissing:  res.Evidence.Missing,
	}, nil
}

// Helpers

// decodeContent 解码 base64 内容。空内容交给 Service 判定为 ErrEmptyPayload。
func decodeContent(raw string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid content_base64: %w", err)
	}
	return b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Server) toEvidence(ev model.EvidenceEntry) Evidence {
	return Evidence{
		EvidenceID:   ev.EvidenceID,
		ContentID:    ev.ContentID,
		FileName:     ev.FileName,
		OriginalName: ev.OriginalName,
		UploadedAt:   formatTime(ev.UploadedAt),
		Type:         string(ev.Type),
		Description:  ev.Description,
		SHA256:       ev.SHA256,
		SizeBytes:    ev.SizeBytes,
		GatewayURL:   s.svc.GatewayURL(ev.ContentID),
	}
}

func toTimeline(tl []model.TimelineEntry) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(tl))
	for _, e := range tl {
		out = append(out, TimelineEntry{
			Timestamp:     formatTime(e.Timestamp),
			Status:        string(e.Status),
			Note:          e.Note,
			EvidenceCount: e.EvidenceCount,
			ChainHash:     e.ChainHash,
		})
	}
	return out
}

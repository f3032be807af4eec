package webapp

import (
	"net/http"
	"time"

	"defir/internal/domain/model"
	"defir/internal/services/ingest"
)

// 旧客户端使用的 camelCase 视图。字段来自新记录，只做形状转换，不另行持久化。

type legacyEvidence struct {
	EvidenceID  string `json:"evidenceId"`
	IPFSHash    string `json:"ipfsHash"`
	FileName    string `json:"fileName"`
	UploadedAt  string `json:"uploadedAt"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type legacyTimeline struct {
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	Note          string `json:"note"`
	EvidenceCount int    `json:"evidenceCount"`
}

type legacyCase struct {
	FirID      string           `json:"firId"`
	IPFSHash   string           `json:"ipfsHash"`
	TxHash     string           `json:"txHash"`
	Victim     *string          `json:"victim"`
	Timestamp  string           `json:"timestamp"`
	GatewayURL string           `json:"gatewayUrl"`
	FileName   string           `json:"fileName"`
	CaseStatus string           `json:"caseStatus"`
	Evidence   []legacyEvidence `json:"evidence"`
	Timeline   []legacyTimeline `json:"timeline"`
}

func legacyTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func toLegacyEvidence(ev model.EvidenceEntry) legacyEvidence {
	return legacyEvidence{
		EvidenceID:  ev.EvidenceID,
		IPFSHash:    ev.ContentID,
		FileName:    ev.FileName,
		UploadedAt:  legacyTime(ev.UploadedAt),
		Type:        string(ev.Type),
		Description: ev.Description,
	}
}

func toLegacyTimeline(tl []model.TimelineEntry) []legacyTimeline {
	out := make([]legacyTimeline, 0, len(tl))
	for _, e := range tl {
		out = append(out, legacyTimeline{
			Timestamp:     legacyTime(e.Timestamp),
			Status:        string(e.Status),
			Note:          e.Note,
			EvidenceCount: e.EvidenceCount,
		})
	}
	return out
}

func (s *Server) toLegacyCase(rec model.CaseRecord) legacyCase {
	out := legacyCase{
		FirID:      rec.CaseID,
		TxHash:     rec.SimulatedTxID,
		Timestamp:  legacyTime(rec.OpenedAt),
		CaseStatus: string(rec.Status),
		Evidence:   make([]legacyEvidence, 0, len(rec.Evidence)),
		Timeline:   toLegacyTimeline(rec.Timeline),
	}
	if rec.Victim != "" {
		v := rec.Victim
		out.Victim = &v
	}
	if len(rec.Evidence) > 0 {
		first := rec.Evidence[0]
		out.IPFSHash = first.ContentID
		out.FileName = first.FileName
		out.GatewayURL = s.svc.GatewayURL(first.ContentID)
	}
	for _, ev := range rec.Evidence {
		out.Evidence = append(out.Evidence, toLegacyEvidence(ev))
	}
	return out
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "msg": "De-FIR backend running"})
}

func (s *Server) handleLegacyUpload(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.CreateCase(r.Context(), ingest.CreateCaseRequest{
		Content:     up.content,
		FileName:    up.fileName,
		Victim:      r.FormValue("victim"),
		Type:        r.FormValue("type"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"firId":      res.CaseID,
		"ipfsHash":   res.ContentID,
		"txHash":     res.SimulatedTxID,
		"gatewayUrl": res.GatewayURL,
	})
}

func (s *Server) handleLegacyLogs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.ListRecords(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]legacyCase, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.toLegacyCase(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLegacyCase(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetCase(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toLegacyCase(*rec))
}

func (s *Server) handleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}
	res, err := s.svc.SetStatus(r.Context(), r.PathValue("id"), req.Status, req.Note)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Case status updated",
		"caseStatus": string(res.Status),
		"timeline":   toLegacyTimeline(res.Timeline),
	})
}

func (s *Server) handleLegacyEvidence(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	ev, err := s.svc.AddEvidence(r.Context(), ingest.AddEvidenceRequest{
		CaseID:      r.PathValue("id"),
		Content:     up.content,
		FileName:    up.fileName,
		Type:        r.FormValue("type"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Evidence added successfully",
		"evidence": toLegacyEvidence(*ev),
	})
}

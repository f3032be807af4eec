package webapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"defir/internal/domain/model"
	"defir/internal/services/auditverify"
	"defir/internal/services/caseexport"
	"defir/internal/services/casereport"
	"defir/internal/services/ingest"
)

// 错误码（响应体 code 字段）。
const (
	codeNotFound       = "not_found"
	codeInvalidStatus  = "invalid_status"
	codeEmptyPayload   = "empty_payload"
	codeMalformedStore = "malformed_store"
	codeBadRequest     = "bad_request"
	codeTooLarge       = "payload_too_large"
	codeInternal       = "internal"
)

// errBadRequest 标记请求体本身不合法（multipart 边界错误、请求体截断等），映射为 400。
var errBadRequest = errors.New("bad request")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "webapp",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	rows, err := s.svc.ListCases(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": rows})
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetCase(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAddEvidence(w http.ResponseWriter, r *http.Request) {
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
		"evidence":    ev,
		"gateway_url": s.svc.GatewayURL(ev.ContentID),
	})
}

type setStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerifyCase(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetCase(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res := auditverify.VerifyCase(r.Context(), *rec, s.svc.Blobs())
	writeJSON(w, http.StatusOK, res)
}

type exportRequest struct {
	Operator string `json:"operator,omitempty"`
	Note     string `json:"note,omitempty"`
	// IncludePDF 仅对 zip 生效：先生成 PDF 报告再一并打包。
	IncludePDF bool `json:"include_pdf,omitempty"`
}

func (s *Server) handleCaseExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}
	rec, err := s.svc.GetCase(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	switch kind := r.PathValue("kind"); kind {
	case "pdf":
		res, err := s.exportPDF(r, *rec, req)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result":       res,
			"download_url": "/api/exports/" + filepath.Base(res.PDFPath),
		})
	case "zip":
		var reports []string
		var warnings []string
		if req.IncludePDF {
			pdfRes, err := s.exportPDF(r, *rec, req)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			reports = append(reports, pdfRes.PDFPath)
			warnings = append(warnings, pdfRes.Warnings...)
		}
		res, err := caseexport.GenerateCaseZip(r.Context(), *rec, s.svc.Blobs(), caseexport.ZipOptions{
			ExportDir: s.exportDir,
			Reports:   reports,
			Operator:  req.Operator,
			Note:      req.Note,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		res.Warnings = append(warnings, res.Warnings...)
		writeJSON(w, http.StatusOK, map[string]any{
			"result":       res,
			"download_url": "/api/exports/" + filepath.Base(res.ZipPath),
		})
	default:
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Errorf("unknown export kind: %s", kind))
	}
}

func (s *Server) exportPDF(r *http.Request, rec model.CaseRecord, req exportRequest) (*casereport.Result, error) {
	verify := auditverify.VerifyCase(r.Context(), rec, s.svc.Blobs())
	return casereport.GenerateCasePDF(r.Context(), rec, casereport.Options{
		OutDir:      s.exportDir,
		Operator:    req.Operator,
		Note:        req.Note,
		GatewayBase: s.rt.Config.GatewayBase,
		Verify:      &verify,
	})
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	contentID := r.PathValue("cid")
	b, err := s.svc.OpenEvidence(r.Context(), contentID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	serveBytes(w, r, contentID, b)
}

func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, ok := exportFilePath(s.exportDir, name)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Errorf("export not found: %s", name))
		return
	}
	serveFile(w, r, path, "")
}

// --- helpers ---

type upload struct {
	content  []byte
	fileName string
}

// readUpload 读取 multipart 的 file 字段，总大小受 max_upload_bytes 限制。
// 缺少文件或文件为空都归为 ErrEmptyPayload。
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	var tooLarge *http.MaxBytesError
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			return upload{}, fmt.Errorf("%w: multipart/form-data with a file field is required", model.ErrEmptyPayload)
		case errors.As(err, &tooLarge):
			return upload{}, fmt.Errorf("parse multipart form: %w", err)
		default:
			return upload{}, fmt.Errorf("%w: parse multipart form: %v", errBadRequest, err)
		}
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return upload{}, fmt.Errorf("%w: no file uploaded", model.ErrEmptyPayload)
		}
		return upload{}, fmt.Errorf("%w: read form file: %v", errBadRequest, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return upload{}, fmt.Errorf("read uploaded file: %w", err)
	}
	return upload{content: b, fileName: hdr.Filename}, nil
}

// decodeJSON 解析请求体；空请求体视为全部字段取零值。
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// errorStatus 把错误分类映射为 HTTP 状态码与错误码。
func errorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, model.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, codeInvalidStatus
	case errors.Is(err, model.ErrEmptyPayload):
		return http.StatusBadRequest, codeEmptyPayload
	case errors.Is(err, model.ErrMalformedStore):
		return http.StatusServiceUnavailable, codeMalformedStore
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, codeBadRequest
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "err", err)
	}
	writeError(w, status, code, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  code,
	})
}

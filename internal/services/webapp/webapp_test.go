package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"defir/internal/app"
	"defir/internal/domain/model"
	"defir/internal/platform/cid"
)

func newTestServer(t *testing.T, backend string) (*httptest.Server, *app.Runtime) {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend = backend
	cfg.MaxUploadBytes = 1 << 20
	cfg.Resolve()

	rt, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	srv := httptest.NewServer(New(rt).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = rt.Close()
	})
	return srv, rt
}

func multipartBody(t *testing.T, fileName string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doJSON(t *testing.T, method, url, contentType string, body io.Reader, want int, out any) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d, body %s", method, url, resp.StatusCode, want, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, raw)
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestAPI_CaseLifecycle(t *testing.T) {
	for _, backend := range []string{app.BackendFile, app.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			srv, _ := newTestServer(t, backend)
			content := []byte("hello")

			body, ct := multipartBody(t, "call.wav", content, map[string]string{"victim": "Asha"})
			var created struct {
				CaseID        string `json:"case_id"`
				ContentID     string `json:"content_id"`
				EvidenceID    string `json:"evidence_id"`
				SimulatedTxID string `json:"simulated_tx_id"`
				GatewayURL    string `json:"gateway_url"`
			}
			doJSON(t, http.MethodPost, srv.URL+"/api/cases", ct, body, http.StatusCreated, &created)
			if created.ContentID != cid.Address(content) || !strings.HasPrefix(created.CaseID, "FIR-") {
				t.Fatalf("unexpected create result: %+v", created)
			}
			if !strings.HasSuffix(created.GatewayURL, "/"+created.ContentID) || !strings.HasPrefix(created.SimulatedTxID, "0x") {
				t.Fatalf("unexpected create result: %+v", created)
			}

			body, ct = multipartBody(t, "statement.pdf", []byte("statement"), map[string]string{"type": "document", "description": "witness"})
			var added struct {
				Evidence model.EvidenceEntry `json:"evidence"`
			}
			doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/evidence", ct, body, http.StatusOK, &added)
			if added.Evidence.Type != model.EvidenceDocument || added.Evidence.Description != "witness" {
				t.Fatalf("unexpected evidence: %+v", added.Evidence)
			}

			var status struct {
				Status   model.CaseStatus      `json:"status"`
				Timeline []model.TimelineEntry `json:"timeline"`
			}
			doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/status", "application/json",
				strings.NewReader(`{"status":"concluded","note":"closed"}`), http.StatusOK, &status)
			if status.Status != model.StatusConcluded || len(status.Timeline) != 3 || status.Timeline[2].Note != "closed" {
				t.Fatalf("unexpected status result: %+v", status)
			}

			var rec model.CaseRecord
			doJSON(t, http.MethodGet, srv.URL+"/api/cases/"+created.CaseID, "", nil, http.StatusOK, &rec)
			if rec.Victim != "Asha" || len(rec.Evidence) != 2 || rec.Evidence[0].Type != model.EvidenceAudio {
				t.Fatalf("unexpected record: %+v", rec)
			}
			if rec.Timeline[1].Note != "New evidence added: "+added.Evidence.FileName {
				t.Fatalf("unexpected evidence note: %q", rec.Timeline[1].Note)
			}

			var list struct {
				Cases []model.CaseSummary `json:"cases"`
			}
			doJSON(t, http.MethodGet, srv.URL+"/api/cases", "", nil, http.StatusOK, &list)
			if len(list.Cases) != 1 || list.Cases[0].Status != model.StatusConcluded {
				t.Fatalf("unexpected list: %+v", list.Cases)
			}

			var verify struct {
				OK bool `json:"ok"`
			}
			doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/verify", "", nil, http.StatusOK, &verify)
			if !verify.OK {
				t.Fatalf("expected verification to pass")
			}

			resp, err := http.Get(srv.URL + "/api/evidence/" + created.ContentID)
			if err != nil {
				t.Fatalf("get evidence: %v", err)
			}
			got, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK || !bytes.Equal(got, content) {
				t.Fatalf("evidence download: %d %q", resp.StatusCode, got)
			}

			var meta struct {
				Store  map[string]any `json:"store"`
				Counts struct {
					Cases    int `json:"cases"`
					Evidence int `json:"evidence"`
				} `json:"counts"`
			}
			doJSON(t, http.MethodGet, srv.URL+"/api/meta", "", nil, http.StatusOK, &meta)
			if meta.Counts.Cases != 1 || meta.Counts.Evidence != 2 || meta.Store["backend"] != backend {
				t.Fatalf("unexpected meta: %+v", meta)
			}
			if backend == app.BackendSQLite && meta.Store["document_schema"] != "defir.case_store.v1" {
				t.Fatalf("sqlite meta missing schema: %+v", meta.Store)
			}
		})
	}
}

func TestAPI_Exports(t *testing.T) {
	srv, _ := newTestServer(t, app.BackendFile)

	body, ct := multipartBody(t, "call.wav", []byte("audio bytes"), nil)
	var created struct {
		CaseID string `json:"case_id"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/cases", ct, body, http.StatusCreated, &created)

	var zipOut struct {
		Result struct {
			ZipPath  string `json:"zip_path"`
			Verified bool   `json:"verified"`
		} `json:"result"`
		DownloadURL string `json:"download_url"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/exports/zip", "application/json",
		strings.NewReader(`{"operator":"tester","include_pdf":true}`), http.StatusOK, &zipOut)
	if !zipOut.Result.Verified {
		t.Fatalf("zip export should verify")
	}
	if _, err := os.Stat(zipOut.Result.ZipPath); err != nil {
		t.Fatalf("zip not written: %v", err)
	}

	resp, err := http.Get(srv.URL + zipOut.DownloadURL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(raw, []byte("PK")) {
		t.Fatalf("download zip: status %d", resp.StatusCode)
	}

	var pdfOut struct {
		Result struct {
			PDFSHA256 string `json:"pdf_sha256"`
		} `json:"result"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/exports/pdf", "", nil, http.StatusOK, &pdfOut)
	if len(pdfOut.Result.PDFSHA256) != 64 {
		t.Fatalf("unexpected pdf result: %+v", pdfOut)
	}

	var e errorBody
	doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/exports/docx", "", nil, http.StatusNotFound, &e)
	doJSON(t, http.MethodGet, srv.URL+"/api/exports/cases.json", "", nil, http.StatusNotFound, &e)
}

func TestAPI_ErrorMapping(t *testing.T) {
	srv, rt := newTestServer(t, app.BackendFile)

	var e errorBody
	doJSON(t, http.MethodGet, srv.URL+"/api/cases/FIR-404", "", nil, http.StatusNotFound, &e)
	if e.Code != codeNotFound {
		t.Fatalf("code = %q", e.Code)
	}

	body, ct := multipartBody(t, "", nil, map[string]string{"victim": "x"})
	doJSON(t, http.MethodPost, srv.URL+"/api/cases", ct, body, http.StatusBadRequest, &e)
	if e.Code != codeEmptyPayload {
		t.Fatalf("code = %q", e.Code)
	}

	body, ct = multipartBody(t, "empty.bin", []byte{}, nil)
	doJSON(t, http.MethodPost, srv.URL+"/api/cases", ct, body, http.StatusBadRequest, &e)
	if e.Code != codeEmptyPayload {
		t.Fatalf("code = %q", e.Code)
	}

	// 超限请求直接走 handler，避免客户端在服务端提前关闭连接时写入失败。
	body, ct = multipartBody(t, "big.bin", bytes.Repeat([]byte("x"), 2<<20), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/cases", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	New(rt).Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload: status %d, body %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e.Code != codeTooLarge {
		t.Fatalf("oversized upload body: %v %+v", err, e)
	}

	// 边界错误与截断的 multipart 是客户端错误。
	for name, raw := range map[string]string{
		"bad boundary": "--other\r\nContent-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n\r\na\r\n--other--\r\n",
		"truncated":    "--b0undary\r\nContent-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n\r\nabc",
	} {
		doJSON(t, http.MethodPost, srv.URL+"/api/cases", "multipart/form-data; boundary=b0undary",
			strings.NewReader(raw), http.StatusBadRequest, &e)
		if e.Code != codeBadRequest {
			t.Fatalf("%s: code = %q", name, e.Code)
		}
	}

	body, ct = multipartBody(t, "a.txt", []byte("a"), nil)
	var created struct {
		CaseID string `json:"case_id"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/cases", ct, body, http.StatusCreated, &created)

	doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/status", "application/json",
		strings.NewReader(`{"status":"archived"}`), http.StatusUnprocessableEntity, &e)
	if e.Code != codeInvalidStatus {
		t.Fatalf("code = %q", e.Code)
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/cases/"+created.CaseID+"/status", "application/json",
		strings.NewReader(`{"status":`), http.StatusBadRequest, &e)
	if e.Code != codeBadRequest {
		t.Fatalf("code = %q", e.Code)
	}

	doJSON(t, http.MethodGet, srv.URL+"/api/evidence/QmNotStoredAnywhere", "", nil, http.StatusNotFound, &e)

	if err := os.WriteFile(rt.Config.StorePath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt store: %v", err)
	}
	doJSON(t, http.MethodGet, srv.URL+"/api/cases", "", nil, http.StatusServiceUnavailable, &e)
	if e.Code != codeMalformedStore {
		t.Fatalf("code = %q", e.Code)
	}
}

func TestLegacyRoutes(t *testing.T) {
	srv, _ := newTestServer(t, app.BackendFile)

	var root map[string]any
	doJSON(t, http.MethodGet, srv.URL+"/", "", nil, http.StatusOK, &root)
	if root["ok"] != true {
		t.Fatalf("unexpected root: %v", root)
	}

	content := []byte("legacy upload")
	body, ct := multipartBody(t, "call.mp3", content, map[string]string{"victim": "Ravi"})
	var up struct {
		FirID      string `json:"firId"`
		IPFSHash   string `json:"ipfsHash"`
		TxHash     string `json:"txHash"`
		GatewayURL string `json:"gatewayUrl"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/fir/upload", ct, body, http.StatusOK, &up)
	if up.IPFSHash != cid.Address(content) || len(up.TxHash) != 66 || up.GatewayURL == "" {
		t.Fatalf("unexpected legacy upload: %+v", up)
	}

	body, ct = multipartBody(t, "photo.jpg", []byte("jpeg"), map[string]string{"type": "image"})
	var ev struct {
		Success  bool `json:"success"`
		Evidence struct {
			EvidenceID string `json:"evidenceId"`
			Type       string `json:"type"`
		} `json:"evidence"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/fir/case/"+up.FirID+"/evidence", ct, body, http.StatusOK, &ev)
	if !ev.Success || ev.Evidence.Type != "image" || len(ev.Evidence.EvidenceID) != 16 {
		t.Fatalf("unexpected legacy evidence: %+v", ev)
	}

	var st struct {
		Success    bool   `json:"success"`
		CaseStatus string `json:"caseStatus"`
		Timeline   []struct {
			Note          string `json:"note"`
			EvidenceCount int    `json:"evidenceCount"`
		} `json:"timeline"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/fir/case/"+up.FirID+"/status", "application/json",
		strings.NewReader(`{"status":"in-progress"}`), http.StatusOK, &st)
	if st.CaseStatus != "in-progress" || len(st.Timeline) != 3 {
		t.Fatalf("unexpected legacy status: %+v", st)
	}
	if st.Timeline[2].Note != "Case status updated to in-progress" || st.Timeline[2].EvidenceCount != 2 {
		t.Fatalf("unexpected last timeline entry: %+v", st.Timeline[2])
	}

	var logs []legacyCase
	doJSON(t, http.MethodGet, srv.URL+"/fir/logs", "", nil, http.StatusOK, &logs)
	if len(logs) != 1 || logs[0].FirID != up.FirID || logs[0].Victim == nil || *logs[0].Victim != "Ravi" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	var one legacyCase
	doJSON(t, http.MethodGet, srv.URL+"/fir/case/"+up.FirID, "", nil, http.StatusOK, &one)
	if one.CaseStatus != "in-progress" || len(one.Evidence) != 2 || one.Evidence[0].Type != "audio" {
		t.Fatalf("unexpected legacy case: %+v", one)
	}

	var e errorBody
	doJSON(t, http.MethodGet, srv.URL+"/fir/case/FIR-0", "", nil, http.StatusNotFound, &e)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, app.BackendFile)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(headerRequestID); got != "req-123" {
		t.Fatalf("request id = %q", got)
	}

	resp, err = http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(headerRequestID); len(got) != 36 {
		t.Fatalf("generated request id = %q", got)
	}
}

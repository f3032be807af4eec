package webapp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"defir/internal/app"
	"defir/internal/services/ingest"
)

const headerRequestID = "X-Request-ID"

// Server 是 HTTP API 的运行时对象。只持有 Ingestion Service 与配置，不直接接触案件库。
type Server struct {
	rt  *app.Runtime
	svc *ingest.Service
	log *slog.Logger

	maxUpload int64
	exportDir string
}

func New(rt *app.Runtime) *Server {
	log := rt.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		rt:        rt,
		svc:       rt.Service,
		log:       log.With("component", "webapp"),
		maxUpload: rt.Config.MaxUploadBytes,
		exportDir: rt.Config.ExportDir(),
	}
}

// Handler 返回带请求日志中间件的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.withRequestLog(mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// API
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/meta", s.handleMeta)
	mux.HandleFunc("GET /api/cases", s.handleListCases)
	mux.HandleFunc("POST /api/cases", s.handleCreateCase)
	mux.HandleFunc("GET /api/cases/{id}", s.handleGetCase)
	mux.HandleFunc("POST /api/cases/{id}/evidence", s.handleAddEvidence)
	mux.HandleFunc("POST /api/cases/{id}/status", s.handleSetStatus)
	mux.HandleFunc("POST /api/cases/{id}/verify", s.handleVerifyCase)
	mux.HandleFunc("POST /api/cases/{id}/exports/{kind}", s.handleCaseExport)
	mux.HandleFunc("GET /api/evidence/{cid}", s.handleEvidence)
	mux.HandleFunc("GET /api/exports/{name}", s.handleExportFile)

	// 旧路径
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /fir/upload", s.handleLegacyUpload)
	mux.HandleFunc("GET /fir/logs", s.handleLegacyLogs)
	mux.HandleFunc("GET /fir/case/{id}", s.handleLegacyCase)
	mux.HandleFunc("POST /fir/case/{id}/status", s.handleLegacyStatus)
	mux.HandleFunc("POST /fir/case/{id}/evidence", s.handleLegacyEvidence)
}

type ctxKeyRequestID struct{}

// requestID 取出中间件放入 ctx 的请求 ID。
func requestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return v
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// withRequestLog 为每个请求分配 ID（沿用客户端传入的 X-Request-ID），并记录一行访问日志。
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(headerRequestID))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set(headerRequestID, rid)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, rid)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", rid,
		)
	})
}

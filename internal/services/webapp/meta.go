package webapp

import (
	"net/http"
	"time"

	"defir/internal/adapters/store/sqlite"
	"defir/internal/app"
	"defir/internal/domain/model"
)

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	rows, err := s.svc.ListCases(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	byStatus := map[model.CaseStatus]int{}
	for _, st := range model.AllStatuses() {
		byStatus[st] = 0
	}
	evidence := 0
	for _, c := range rows {
		byStatus[c.Status]++
		evidence += c.EvidenceCount
	}

	store := map[string]any{
		"backend":          s.rt.Config.Backend,
		"blob_dir":         s.rt.Config.BlobDir,
		"blob_compression": s.rt.Config.BlobCompression,
	}
	if s.rt.SQLite != nil {
		docSchema, _ := s.rt.SQLite.GetSchemaMetaValue(r.Context(), "document_schema")
		version, dirty, _ := sqlite.NewMigrator(s.rt.SQLite.DB()).Version(r.Context())
		store["db_path"] = s.rt.Config.DBPath
		store["document_schema"] = docSchema
		store["migration_version"] = version
		store["migration_dirty"] = dirty
	} else {
		store["store_path"] = s.rt.Config.StorePath
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().Unix(),
		"app": map[string]any{
			"version":    app.Version,
			"commit":     app.Commit,
			"build_time": app.BuildTime,
		},
		"store": store,
		"counts": map[string]any{
			"cases":     len(rows),
			"evidence":  evidence,
			"by_status": byStatus,
		},
	})
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"defir/internal/adapters/blobstore"
	"defir/internal/adapters/store/docfile"
	"defir/internal/adapters/store/sqlite"
	"defir/internal/casestore"
	"defir/internal/services/ingest"
)

// Runtime 是按配置装配好的运行时依赖，CLI/HTTP/MCP 共用。
type Runtime struct {
	Config  Config
	Logger  *slog.Logger
	Store   *casestore.Store
	Blobs   *blobstore.Store
	Service *ingest.Service

	// SQLite 仅在 backend=sqlite 时非空。
	SQLite *sqlite.Store
}

// Open 按配置打开存储后端与证据字节存储，并构造 Ingestion Service。
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{Config: cfg, Logger: logger}

	var backend casestore.Backend
	switch cfg.Backend {
	case BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		rt.SQLite = st
		backend = st
	case BackendFile, "":
		backend = docfile.New(cfg.StorePath)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	compression, err := blobstore.ParseCompression(cfg.BlobCompression)
	if err != nil {
		rt.Close()
		return nil, err
	}
	blobs, err := blobstore.New(cfg.BlobDir, compression)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	rt.Store = casestore.New(backend)
	rt.Blobs = blobs
	rt.Service = ingest.New(ingest.Options{
		Store:       rt.Store,
		Blobs:       blobs,
		Logger:      logger,
		GatewayBase: cfg.GatewayBase,
	})

	logger.Debug("runtime opened",
		"backend", cfg.Backend,
		"data_dir", cfg.DataDir,
		"blob_dir", cfg.BlobDir,
		"blob_compression", compression,
	)
	return rt, nil
}

// Close 释放后端资源。
func (rt *Runtime) Close() error {
	if rt == nil || rt.SQLite == nil {
		return nil
	}
	return rt.SQLite.Close()
}

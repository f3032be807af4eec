// Package sqlite 把案件库文档保存在 SQLite 中（一行一个文档）。
//
// 与 docfile 一样，每次写回是整体替换；替换与修订记录在同一个事务内完成。
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"defir/internal/domain/model"
	"defir/internal/platform/hash"

	_ "modernc.org/sqlite"
)

// DefaultDocumentName 是默认文档的主键。
const DefaultDocumentName = "default"

// Store 封装与 SQLite 的读写逻辑，实现 casestore.Backend。
type Store struct {
	db   *sql.DB
	name string
	path string
	now  func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, name: DefaultDocumentName, now: time.Now}
}

// Open 打开（必要时创建）数据库文件并执行迁移。
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 内部单机工具优先稳定性：SQLite 用单连接 + busy_timeout 减少“database is locked”。
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := NewMigrator(db).Up(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := NewStore(db)
	st.path = path
	return st, nil
}

// DB 暴露底层连接（迁移命令使用）。
func (s *Store) DB() *sql.DB {
	return s.db
}

// LockPath 返回跨进程锁文件路径。经 NewStore 包装的外部连接不知道文件位置，返回空串。
func (s *Store) LockPath() string {
	if s.path == "" {
		return ""
	}
	return s.path + ".lock"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load 读取文档。没有记录时返回空文档；正文摘要不符或无法解析时返回 ErrMalformedStore。
func (s *Store) Load(ctx context.Context) (*model.Document, error) {
	var body, sum string
	err := s.db.QueryRowContext(ctx, `
		SELECT body, body_sha256
		FROM case_documents
		WHERE name = ?
		LIMIT 1
	`, s.name).Scan(&body, &sum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewDocument(), nil
		}
		return nil, fmt.Errorf("query case document: %w", err)
	}

	if got := hash.Bytes([]byte(body)); got != sum {
		return nil, fmt.Errorf("%w: document body sha256 mismatch (stored=%s computed=%s)", model.ErrMalformedStore, sum, got)
	}
	var doc model.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: parse document: %v", model.ErrMalformedStore, err)
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedStore, err)
	}
	return &doc, nil
}

// Save 在事务内整体替换文档，并追加一条链式修订记录。
func (s *Store) Save(ctx context.Context, doc *model.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	body := string(raw)
	sum := hash.Bytes(raw)
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var revision int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO case_documents(name, schema, body, body_sha256, revision, updated_at)
		VALUES(?, ?, ?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			schema=excluded.schema,
			body=excluded.body,
			body_sha256=excluded.body_sha256,
			revision=case_documents.revision + 1,
			updated_at=excluded.updated_at
		RETURNING revision
	`, s.name, doc.Schema, body, sum, now).Scan(&revision)
	if err != nil {
		return fmt.Errorf("upsert case document: %w", err)
	}

	prev := ""
	err = tx.QueryRowContext(ctx, `
		SELECT chain_hash
		FROM case_document_revisions
		WHERE name = ?
		ORDER BY revision DESC
		LIMIT 1
	`, s.name).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query previous chain hash: %w", err)
	}
	chain := hash.Text(prev, s.name, strconv.FormatInt(revision, 10), sum, strconv.FormatInt(now, 10))

	_, err = tx.ExecContext(ctx, `
		INSERT INTO case_document_revisions(
			name, revision, body_sha256, case_count, saved_at, chain_prev_hash, chain_hash
		)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, s.name, revision, sum, len(doc.Cases), now, nullIfEmpty(prev), chain)
	if err != nil {
		return fmt.Errorf("insert document revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit case document: %w", err)
	}
	return nil
}

// Revision 是一次文档写回的留痕。
type Revision struct {
	Revision      int64  `json:"revision"`
	BodySHA256    string `json:"body_sha256"`
	CaseCount     int    `json:"case_count"`
	SavedAt       int64  `json:"saved_at"`
	ChainPrevHash string `json:"chain_prev_hash,omitempty"`
	ChainHash     string `json:"chain_hash"`
}

// ListRevisions 返回修订记录（按修订号升序）。
func (s *Store) ListRevisions(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			revision,
			body_sha256,
			case_count,
			saved_at,
			COALESCE(chain_prev_hash, ''),
			chain_hash
		FROM case_document_revisions
		WHERE name = ?
		ORDER BY revision ASC
		LIMIT ?
	`, s.name, limit)
	if err != nil {
		return nil, fmt.Errorf("query document revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.Revision, &r.BodySHA256, &r.CaseCount, &r.SavedAt, &r.ChainPrevHash, &r.ChainHash); err != nil {
			return nil, fmt.Errorf("scan document revision: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document revisions: %w", err)
	}
	if out == nil {
		out = []Revision{}
	}
	return out, nil
}

// VerifyRevisions 重算修订链，返回第一处断链的修订号；链完整时返回 0。
func (s *Store) VerifyRevisions(ctx context.Context) (int64, error) {
	revs, err := s.ListRevisions(ctx, 5000)
	if err != nil {
		return 0, err
	}
	prev := ""
	for _, r := range revs {
		want := hash.Text(prev, s.name, strconv.FormatInt(r.Revision, 10), r.BodySHA256, strconv.FormatInt(r.SavedAt, 10))
		if r.ChainPrevHash != prev || r.ChainHash != want {
			return r.Revision, nil
		}
		prev = r.ChainHash
	}
	return 0, nil
}

// GetSchemaMetaValue 查询 schema_meta 表指定 key 的 value。
func (s *Store) GetSchemaMetaValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM schema_meta
		WHERE key = ?
		LIMIT 1
	`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query schema_meta %s: %w", key, err)
	}
	return v, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

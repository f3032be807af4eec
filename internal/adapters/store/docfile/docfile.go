// Package docfile 把案件库文档保存为单个 JSON 文件。
//
// 写入采用“同目录临时文件 + fsync + rename”，rename 在同一文件系统上是原子的，
// 读者要么看到旧文档，要么看到新文档，不会读到写了一半的内容。
package docfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"defir/internal/domain/model"
)

// Backend 是基于本地 JSON 文件的 casestore.Backend 实现。
type Backend struct {
	path string
}

func New(path string) *Backend {
	return &Backend{path: path}
}

// Path 返回文档文件路径。
func (b *Backend) Path() string {
	return b.path
}

// LockPath 返回跨进程锁文件路径（文档旁的 .lock 文件）。
func (b *Backend) LockPath() string {
	return b.path + ".lock"
}

// Load 读取文档。文件不存在或为空时返回空文档；内容无法解析或结构不合法时返回 ErrMalformedStore。
func (b *Backend) Load(ctx context.Context) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.NewDocument(), nil
		}
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return model.NewDocument(), nil
	}

	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", model.ErrMalformedStore, b.path, err)
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrMalformedStore, b.path, err)
	}
	return &doc, nil
}

// Save 原子替换整个文档文件。
func (b *Backend) Save(ctx context.Context, doc *model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	raw = append(raw, '\n')
	return writeFileAtomic(b.path, raw, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	ok = true

	// 尽力把目录项也刷盘；部分平台不支持对目录 fsync，忽略错误。
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

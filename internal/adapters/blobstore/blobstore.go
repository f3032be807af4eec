// Package blobstore 按内容标识（CID）保存证据原始字节。
//
// 布局：<root>/<CID 末两位>/<CID>[.zst|.lz4]。同一 CID 只保存一份；
// 压缩后不比原文小时直接存原文（已压缩的音频、图片通常如此）。
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"defir/internal/platform/cid"
)

// ErrBlobNotFound 表示该 CID 没有对应的字节。
var ErrBlobNotFound = errors.New("blob not found")

// Compression 是落盘压缩算法。
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression 解析配置值；空字符串按 zstd。
func ParseCompression(raw string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(raw))); c {
	case "":
		return CompressionZstd, nil
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown blob compression %q", raw)
	}
}

func (c Compression) ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// 读取时按顺序探测各种后缀。
var lookupOrder = []Compression{CompressionNone, CompressionZstd, CompressionLZ4}

// zstd.Encoder / zstd.Decoder 可并发使用，全局复用。
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blobstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobstore: zstd decoder initialization failed: " + err.Error())
	}
}

// Store 是本地目录上的 CID 寻址字节存储。
type Store struct {
	root        string
	compression Compression
}

func New(root string, compression Compression) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob root is required")
	}
	if compression == "" {
		compression = CompressionZstd
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root, compression: compression}, nil
}

// Root 返回存储根目录。
func (s *Store) Root() string {
	return s.root
}

// Put 保存内容。已存在同 CID 的字节时不重复写入，created 返回 false。
// contentID 必须是 content 的 CID，不一致时拒绝写入。
func (s *Store) Put(ctx context.Context, contentID string, content []byte) (created bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkID(contentID); err != nil {
		return false, err
	}
	if got := cid.Address(content); got != contentID {
		return false, fmt.Errorf("content id mismatch: declared %s computed %s", contentID, got)
	}
	if _, _, ok := s.find(contentID); ok {
		return false, nil
	}

	payload, used, err := encode(content, s.compression)
	if err != nil {
		return false, err
	}
	dst := s.pathFor(contentID, used)
	if err := writeFileAtomic(dst, payload); err != nil {
		return false, err
	}
	return true, nil
}

// Get 读取并解压内容。
func (s *Store) Get(ctx context.Context, contentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkID(contentID); err != nil {
		return nil, err
	}
	path, c, ok := s.find(contentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, contentID)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", contentID, err)
	}
	return decode(raw, c)
}

// Has 判断该 CID 是否已保存。
func (s *Store) Has(contentID string) bool {
	if checkID(contentID) != nil {
		return false
	}
	_, _, ok := s.find(contentID)
	return ok
}

func (s *Store) find(contentID string) (string, Compression, bool) {
	for _, c := range lookupOrder {
		p := s.pathFor(contentID, c)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, c, true
		}
	}
	return "", "", false
}

func (s *Store) pathFor(contentID string, c Compression) string {
	shard := contentID[len(contentID)-2:]
	return filepath.Join(s.root, shard, contentID+c.ext())
}

// checkID 拒绝不合法的 CID，避免被拼成任意路径。
func checkID(contentID string) error {
	if len(contentID) < 4 || !cid.Valid(contentID) {
		return fmt.Errorf("invalid content id %q", contentID)
	}
	return nil
}

func encode(content []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(content, nil)
		if len(out) >= len(content) {
			return content, CompressionNone, nil
		}
		return out, CompressionZstd, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		if buf.Len() >= len(content) {
			return content, CompressionNone, nil
		}
		return buf.Bytes(), CompressionLZ4, nil
	default:
		return content, CompressionNone, nil
	}
}

func decode(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return raw, nil
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
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
		return fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename blob: %w", err)
	}
	ok = true
	return nil
}

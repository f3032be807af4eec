// Package caseexport 生成案件导出包（ZIP）。
package caseexport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"defir/internal/app"
	"defir/internal/domain/model"
	"defir/internal/platform/hash"
	"defir/internal/platform/id"
	"defir/internal/services/auditverify"
)

// ZipOptions 定义导出包生成参数。
type ZipOptions struct {
	// ExportDir 导出目录（必填）。
	ExportDir string

	// Reports 可选：一并打包的报告文件（例如已生成的 PDF），放在 reports/ 下。
	Reports []string

	Operator string
	Note     string
}

type FileHashEntry struct {
	Path      string `json:"path"`       // ZIP 内路径（使用 "/" 分隔）
	SHA256    string `json:"sha256"`     // 文件内容 SHA-256
	SizeBytes int64  `json:"size_bytes"` // 原始字节数
	Kind      string `json:"kind"`       // evidence|report|manifest
}

type ManifestEvidence struct {
	Evidence model.EvidenceEntry `json:"evidence"`
	ZipPath  string              `json:"zip_path"`
}

type ZipManifest struct {
	Schema      string    `json:"schema"`
	GeneratedAt time.Time `json:"generated_at"`
	Operator    string    `json:"operator"`

	App struct {
		Version   string `json:"version"`
		Commit    string `json:"commit"`
		BuildTime string `json:"build_time"`
	} `json:"app"`

	Case         model.CaseRecord        `json:"case"`
	Evidence     []ManifestEvidence      `json:"evidence"`
	Verification auditverify.CaseResult  `json:"verification"`
	Files        []FileHashEntry         `json:"files"`
	Warnings     []string                `json:"warnings,omitempty"`
	Note         string                  `json:"note,omitempty"`
}

// ZipResult 是一次导出的摘要输出。
type ZipResult struct {
	CaseID     string    `json:"case_id"`
	ZipPath    string    `json:"zip_path"`
	ZipSHA256  string    `json:"zip_sha256"`
	Verified   bool      `json:"verified"`
	Warnings   []string  `json:"warnings,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

const manifestSchemaV1 = "defir.case_export_manifest.v1"

// GenerateCaseZip 生成案件导出包。
//
// 输出 ZIP 内容（v1）：
// - manifest.json：案件记录、证据清单、完整性复核结果、文件 hash
// - hashes.sha256：ZIP 内各文件（除自身）sha256 列表（sha256sum 兼容格式）
// - evidence/..：证据原始字节（从 blob 存储按 CID 取出）
// - reports/..：可选的报告文件
func GenerateCaseZip(ctx context.Context, rec model.CaseRecord, blobs auditverify.BlobReader, opts ZipOptions) (*ZipResult, error) {
	startedAt := time.Now().UTC()

	caseID := strings.TrimSpace(rec.CaseID)
	if caseID == "" {
		return nil, fmt.Errorf("case_id is required")
	}
	exportDir := strings.TrimSpace(opts.ExportDir)
	if exportDir == "" {
		return nil, fmt.Errorf("export_dir is required")
	}
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = "system"
	}
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	verification := auditverify.VerifyCase(ctx, rec, blobs)

	zipPath := filepath.Join(exportDir, fmt.Sprintf("%s_export_%d.zip", caseID, startedAt.UnixMilli()))
	f, err := os.Create(zipPath)
	if err != nil {
		return nil, fmt.Errorf("create zip: %w", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	defer func() { _ = zw.Close() }()

	var warnings []string
	var fileHashes []FileHashEntry

	// 证据：同一 CID 可能被多条证据引用，每条证据各自落一个文件，文件名以 evidence_id 开头保证唯一。
	manifestEvidence := make([]ManifestEvidence, 0, len(rec.Evidence))
	for _, ev := range rec.Evidence {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entryPath := "evidence/" + ev.EvidenceID + "-" + id.SanitizeFileName(firstNonEmpty(ev.OriginalName, ev.FileName))
		content, err := blobs.Get(ctx, ev.ContentID)
		if err != nil {
			// best-effort：缺失的证据不阻断导出，但必须在 manifest 里留下痕迹。
			warnings = append(warnings, fmt.Sprintf("skip evidence %s (%s): %v", ev.EvidenceID, ev.ContentID, err))
			manifestEvidence = append(manifestEvidence, ManifestEvidence{Evidence: ev})
			continue
		}
		sum, size, err := writeZipFileFromBytes(zw, entryPath, content)
		if err != nil {
			return nil, fmt.Errorf("write evidence to zip: %w", err)
		}
		fileHashes = append(fileHashes, FileHashEntry{Path: entryPath, SHA256: sum, SizeBytes: size, Kind: "evidence"})
		manifestEvidence = append(manifestEvidence, ManifestEvidence{Evidence: ev, ZipPath: entryPath})
	}

	for _, src := range opts.Reports {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		entryPath := "reports/" + filepath.Base(src)
		sum, size, err := writeZipFileFromDisk(zw, src, entryPath)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skip report %s: %v", src, err))
			continue
		}
		fileHashes = append(fileHashes, FileHashEntry{Path: entryPath, SHA256: sum, SizeBytes: size, Kind: "report"})
	}

	manifest := ZipManifest{
		Schema:       manifestSchemaV1,
		GeneratedAt:  time.Now().UTC(),
		Operator:     operator,
		Case:         rec,
		Evidence:     manifestEvidence,
		Verification: verification,
		Warnings:     warnings,
		Note:         strings.TrimSpace(opts.Note),
	}
	manifest.App.Version = app.Version
	manifest.App.Commit = app.Commit
	manifest.App.BuildTime = app.BuildTime

	// 排序：让 manifest 与 hashes.sha256 尽量稳定（便于对比）。
	sort.Slice(fileHashes, func(i, j int) bool { return fileHashes[i].Path < fileHashes[j].Path })
	manifest.Files = fileHashes

	manifestRaw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestSum, manifestSize, err := writeZipFileFromBytes(zw, "manifest.json", manifestRaw)
	if err != nil {
		return nil, fmt.Errorf("write manifest to zip: %w", err)
	}
	fileHashes = append(fileHashes, FileHashEntry{Path: "manifest.json", SHA256: manifestSum, SizeBytes: manifestSize, Kind: "manifest"})

	// hashes.sha256（sha256sum 兼容格式，不包含自身）
	sort.Slice(fileHashes, func(i, j int) bool { return fileHashes[i].Path < fileHashes[j].Path })
	hashLines := make([]string, 0, len(fileHashes)+4)
	hashLines = append(hashLines, "# defir case export hash list")
	hashLines = append(hashLines, fmt.Sprintf("# generated_at=%s", manifest.GeneratedAt.Format(time.RFC3339)))
	hashLines = append(hashLines, "# format: <sha256><two spaces><path>")
	for _, fh := range fileHashes {
		hashLines = append(hashLines, fmt.Sprintf("%s  %s", fh.SHA256, fh.Path))
	}
	hashLines = append(hashLines, "")
	if _, _, err := writeZipFileFromBytes(zw, "hashes.sha256", []byte(strings.Join(hashLines, "\n"))); err != nil {
		return nil, fmt.Errorf("write hashes.sha256 to zip: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close zip file: %w", err)
	}

	zipSum, _, err := hash.File(zipPath)
	if err != nil {
		return nil, fmt.Errorf("hash zip: %w", err)
	}

	return &ZipResult{
		CaseID:     caseID,
		ZipPath:    zipPath,
		ZipSHA256:  zipSum,
		Verified:   verification.OK,
		Warnings:   warnings,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}, nil
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func writeZipFileFromDisk(zw *zip.Writer, srcPath, zipPath string) (sum string, size int64, err error) {
	fi, err := os.Stat(srcPath)
	if err != nil {
		return "", 0, err
	}
	if fi.IsDir() {
		return "", 0, fmt.Errorf("is a directory")
	}

	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return "", 0, err
	}
	hdr.Name = zipPath
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return "", 0, err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, hasher), f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func writeZipFileFromBytes(zw *zip.Writer, zipPath string, b []byte) (sum string, size int64, err error) {
	hdr := &zip.FileHeader{
		Name:     zipPath,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return "", 0, err
	}
	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, hasher), bytes.NewReader(b))
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

package caseexport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"defir/internal/platform/hash"
	"defir/internal/services/auditverify"
)

// ZipVerifyItem 是导出包内单个文件的复核结果。
type ZipVerifyItem struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Status   string `json:"status"` // ok|missing|mismatch|error
	Message  string `json:"message,omitempty"`
}

// ZipVerifyResult 汇总导出包复核。
type ZipVerifyResult struct {
	ZipPath string          `json:"zip_path"`
	Total   int             `json:"total"`
	OK      int             `json:"ok"`
	Failed  int             `json:"failed"`
	Items   []ZipVerifyItem `json:"items"`

	// Timeline 是对 manifest.json 中案件时间线的重算结果；manifest 不可读时为 nil。
	Timeline *auditverify.Result `json:"timeline,omitempty"`
}

// Passed 当所有文件 hash 一致且时间线链完整时返回 true。
func (r *ZipVerifyResult) Passed() bool {
	return r.Failed == 0 && (r.Timeline == nil || r.Timeline.OK)
}

// VerifyZip 离线复核导出包：按 hashes.sha256 逐个重算文件 hash，并重算 manifest 内的时间线链。
func VerifyZip(path string) (*ZipVerifyResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	hashList, ok := files["hashes.sha256"]
	if !ok {
		return nil, fmt.Errorf("hashes.sha256 not found in zip")
	}
	raw, err := readZipFile(hashList)
	if err != nil {
		return nil, fmt.Errorf("read hashes.sha256: %w", err)
	}

	res := &ZipVerifyResult{ZipPath: path}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// sha256sum 格式：<sha256><two spaces><path>
		parts := strings.Fields(line)
		if len(parts) < 2 || len(parts[0]) != 64 {
			continue
		}
		item := ZipVerifyItem{Path: strings.Join(parts[1:], " "), Expected: parts[0]}
		res.Total++

		f, ok := files[item.Path]
		if !ok {
			item.Status = "missing"
			res.Failed++
			res.Items = append(res.Items, item)
			continue
		}
		b, err := readZipFile(f)
		if err != nil {
			item.Status = "error"
			item.Message = err.Error()
			res.Failed++
			res.Items = append(res.Items, item)
			continue
		}
		item.Actual = hash.Bytes(b)
		if strings.EqualFold(item.Actual, item.Expected) {
			item.Status = "ok"
			res.OK++
		} else {
			item.Status = "mismatch"
			res.Failed++
		}
		res.Items = append(res.Items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan hashes.sha256: %w", err)
	}

	if mf, ok := files["manifest.json"]; ok {
		if data, err := readZipFile(mf); err == nil {
			var m ZipManifest
			if err := json.Unmarshal(data, &m); err == nil {
				tl := auditverify.VerifyTimeline(m.Case)
				res.Timeline = &tl
			}
		}
	}
	return res, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

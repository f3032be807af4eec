// Package casereport 生成案件 PDF 报告。
//
// PDF 属于二进制产物，生成后登记文件 SHA-256，便于归档与复核；
// 完整证据链请使用 caseexport 的 ZIP 导出（manifest.json + hashes.sha256 + 证据原件）。
package casereport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"defir/internal/domain/model"
	"defir/internal/platform/hash"
	"defir/internal/services/auditverify"

	"github.com/phpdave11/gofpdf"
)

type Options struct {
	OutDir      string
	Operator    string
	Note        string
	GatewayBase string

	// Verify 可选：附带一次完整性复核结果，写入报告第 4 节。
	Verify *auditverify.CaseResult
}

type Result struct {
	CaseID      string    `json:"case_id"`
	PDFPath     string    `json:"pdf_path"`
	PDFSHA256   string    `json:"pdf_sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	Warnings    []string  `json:"warnings,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GenerateCasePDF 生成案件报告：概要、证据列表、时间线、完整性复核。
func GenerateCasePDF(ctx context.Context, rec model.CaseRecord, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.CaseID) == "" {
		return nil, fmt.Errorf("case_id is required")
	}
	outDir := strings.TrimSpace(opts.OutDir)
	if outDir == "" {
		return nil, fmt.Errorf("out_dir is required")
	}
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = "system"
	}

	now := time.Now().UTC()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir reports: %w", err)
	}
	pdfPath := filepath.Join(outDir, fmt.Sprintf("%s_report_%d.pdf", rec.CaseID, now.UnixMilli()))

	warnings := []string{}
	pdf, utf8OK := buildPDF(rec, opts, operator, now)
	if !utf8OK {
		// 不支持 UTF-8 字体时，非 ASCII 字符会被替换为 '?'，这里显式告知调用方。
		warnings = append(warnings, "pdf utf8 font not available; non-ascii text may be replaced with '?'")
	}
	if err := pdf.OutputFileAndClose(pdfPath); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	sum, size, err := hash.File(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("sha256 pdf: %w", err)
	}
	return &Result{
		CaseID:      rec.CaseID,
		PDFPath:     pdfPath,
		PDFSHA256:   sum,
		SizeBytes:   size,
		Warnings:    warnings,
		GeneratedAt: now,
	}, nil
}

func buildPDF(rec model.CaseRecord, opts Options, operator string, generatedAt time.Time) (*gofpdf.Fpdf, bool) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetTitle("De-FIR Case Report", false)

	fontFamily, utf8OK := initPDFUnicodeFont(pdf)

	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 9, "De-FIR Case Report", "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated at: %s", fmtTime(generatedAt)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Operator: %s", safeText(operator, utf8OK)), "", 1, "L", false, 0, "")
	if strings.TrimSpace(opts.Note) != "" {
		pdf.MultiCell(0, 5, fmt.Sprintf("Note: %s", safeText(opts.Note, utf8OK)), "", "L", false)
	}
	pdf.Ln(2)

	sectionTitle(pdf, fontFamily, "1. Case Overview")
	kv(pdf, fontFamily, utf8OK, "Case ID", rec.CaseID)
	kv(pdf, fontFamily, utf8OK, "Victim", rec.Victim)
	kv(pdf, fontFamily, utf8OK, "Status", string(rec.Status))
	kv(pdf, fontFamily, utf8OK, "Opened At", fmtTime(rec.OpenedAt))
	kv(pdf, fontFamily, utf8OK, "Updated At", fmtTime(rec.UpdatedAt()))
	kv(pdf, fontFamily, utf8OK, "Evidence Count", fmt.Sprintf("%d", len(rec.Evidence)))
	kv(pdf, fontFamily, utf8OK, "Simulated Tx", rec.SimulatedTxID)
	if last := rec.LastTimeline(); last != nil {
		kv(pdf, fontFamily, utf8OK, "Timeline Last Hash", last.ChainHash)
	}
	pdf.SetFont(fontFamily, "", 8)
	pdf.SetTextColor(110, 110, 110)
	pdf.MultiCell(0, 4, "The simulated transaction id is a locally generated random value; it has no on-chain meaning.", "", "L", false)
	pdf.Ln(2)

	sectionTitle(pdf, fontFamily, "2. Evidence")
	if len(rec.Evidence) == 0 {
		emptyLine(pdf, fontFamily)
	} else {
		gw := strings.TrimRight(strings.TrimSpace(opts.GatewayBase), "/")
		for i, e := range rec.Evidence {
			pdf.SetFont(fontFamily, "B", 10)
			pdf.SetTextColor(20, 20, 20)
			pdf.MultiCell(0, 5, fmt.Sprintf("#%d %s | %s | %s", i+1, safeText(string(e.Type), utf8OK), safeText(e.EvidenceID, utf8OK), fmtTime(e.UploadedAt)), "", "L", false)
			pdf.SetFont(fontFamily, "", 9)
			pdf.SetTextColor(40, 40, 40)
			pdf.MultiCell(0, 4.5, fmt.Sprintf("file: %s", safeText(firstNonEmpty(e.OriginalName, e.FileName), utf8OK)), "", "L", false)
			pdf.MultiCell(0, 4.5, fmt.Sprintf("cid: %s", safeText(e.ContentID, utf8OK)), "", "L", false)
			if gw != "" {
				pdf.MultiCell(0, 4.5, fmt.Sprintf("gateway: %s/%s", safeText(gw, utf8OK), safeText(e.ContentID, utf8OK)), "", "L", false)
			}
			pdf.MultiCell(0, 4.5, fmt.Sprintf("sha256: %s (%d bytes)", safeText(e.SHA256, utf8OK), e.SizeBytes), "", "L", false)
			if strings.TrimSpace(e.Description) != "" {
				pdf.MultiCell(0, 4.5, fmt.Sprintf("description: %s", safeText(e.Description, utf8OK)), "", "L", false)
			}
			pdf.Ln(1)
		}
	}
	pdf.Ln(2)

	sectionTitle(pdf, fontFamily, "3. Timeline")
	if len(rec.Timeline) == 0 {
		emptyLine(pdf, fontFamily)
	} else {
		for _, t := range rec.Timeline {
			pdf.SetFont(fontFamily, "", 9)
			pdf.SetTextColor(30, 30, 30)
			pdf.MultiCell(0, 4.5, fmt.Sprintf("%s [%s] evidence=%d %s",
				fmtTime(t.Timestamp),
				strings.ToUpper(string(t.Status)),
				t.EvidenceCount,
				safeText(t.Note, utf8OK),
			), "", "L", false)
			pdf.SetFont(fontFamily, "", 7)
			pdf.SetTextColor(120, 120, 120)
			pdf.MultiCell(0, 3.5, "chain: "+t.ChainHash, "", "L", false)
		}
	}
	pdf.Ln(2)

	sectionTitle(pdf, fontFamily, "4. Integrity Check")
	if v := opts.Verify; v == nil {
		emptyLine(pdf, fontFamily)
	} else {
		kv(pdf, fontFamily, utf8OK, "Verified At", fmtTime(v.VerifiedAt))
		kv(pdf, fontFamily, utf8OK, "Overall", okText(v.OK))
		kv(pdf, fontFamily, utf8OK, "Timeline", fmt.Sprintf("%s (%d entries, %d failed)", okText(v.Timeline.OK), v.Timeline.Total, v.Timeline.Failed))
		kv(pdf, fontFamily, utf8OK, "Evidence", fmt.Sprintf("%s (matched=%d mismatch=%d missing=%d)", okText(v.Evidence.OK), v.Evidence.Matched, v.Evidence.Mismatch, v.Evidence.Missing))
	}

	pdf.Ln(2)
	pdf.SetFont(fontFamily, "", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 4.5, "Note: For the full evidence chain, use the ZIP export (manifest.json + hashes.sha256 + evidence files).", "", "L", false)

	return pdf, utf8OK
}

func sectionTitle(pdf *gofpdf.Fpdf, fontFamily string, title string) {
	pdf.SetFont(fontFamily, "B", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(pdf.GetX(), pdf.GetY(), 200, pdf.GetY())
	pdf.Ln(2)
}

func kv(pdf *gofpdf.Fpdf, fontFamily string, utf8OK bool, key string, value string) {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	pdf.SetFont(fontFamily, "B", 10)
	pdf.SetTextColor(30, 30, 30)
	pdf.CellFormat(36, 5.2, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(20, 20, 20)
	pdf.MultiCell(0, 5.2, safeText(value, utf8OK), "", "L", false)
}

func emptyLine(pdf *gofpdf.Fpdf, fontFamily string) {
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 5, "(empty)", "", "L", false)
}

func okText(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAILED"
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05.000 UTC")
}

func safeText(s string, utf8OK bool) string {
	// 未加载 UTF-8 字体时把非 ASCII 字符替换为 '?'，保证 PDF 一定能生成。
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.TrimSpace(s)
	if utf8OK {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		} else {
			b.WriteRune('?')
		}
	}
	return b.String()
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// initPDFUnicodeFont 尝试加载 UTF-8 字体（TrueType），以支持中文等非 ASCII 字符。
//
// 规则：
// 1) 如果设置了环境变量 DEFIR_PDF_FONT，优先使用该文件路径。
// 2) 否则按常见系统字体路径探测（macOS/Windows/Linux）。
// 3) 加载失败则回退到核心字体（Helvetica），并通过 safeText() 兜底替换非 ASCII 字符。
func initPDFUnicodeFont(pdf *gofpdf.Fpdf) (family string, utf8OK bool) {
	const familyName = "unicode"
	candidates := []string{}

	if v := strings.TrimSpace(os.Getenv("DEFIR_PDF_FONT")); v != "" {
		candidates = append(candidates, v)
	}

	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates,
			"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
			"/System/Library/Fonts/Supplemental/AppleGothic.ttf",
		)
	case "windows":
		candidates = append(candidates,
			`C:\Windows\Fonts\arialuni.ttf`,
			`C:\Windows\Fonts\simhei.ttf`,
		)
	default:
		candidates = append(candidates,
			"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
			"/usr/share/fonts/truetype/noto/NotoSans-Regular.ttf",
		)
	}

	for _, p := range candidates {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}

		// 即使只有一个字体文件，这里也注册 B 样式，避免 SetFont(...,"B",...) 报错。
		pdf.AddUTF8Font(familyName, "", p)
		if pdf.Err() {
			pdf.ClearError()
			continue
		}
		pdf.AddUTF8Font(familyName, "B", p)
		if pdf.Err() {
			pdf.ClearError()
		}
		return familyName, true
	}

	return "Helvetica", false
}

// Package evidence 把一份上传内容（字节 + 元数据）包装成证据记录。
package evidence

import (
	"fmt"
	"strings"
	"time"

	"defir/internal/domain/model"
	"defir/internal/platform/cid"
	"defir/internal/platform/hash"
	"defir/internal/platform/id"
)

// Upload 是一次上传的输入：完整字节 + 调用方声明的元数据。
type Upload struct {
	Content     []byte
	FileName    string // 原始文件名（可为空）
	Type        string // audio|document|image|other，空或未知按 document
	Description string
}

// Builder 生成证据记录。now 可在测试中替换。
type Builder struct {
	now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// WithClock 返回使用指定时钟的 Builder（测试用）。
func (b *Builder) WithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// Build 生成落盘名后调用 BuildEvidence，并保留原始文件名。
func (b *Builder) Build(u Upload) (model.EvidenceEntry, error) {
	at := b.now().UTC().Truncate(time.Millisecond)
	stored := id.StoredFileName(u.FileName, at)

	entry, err := buildAt(u.Content, stored, u.Type, u.Description, at)
	if err != nil {
		return model.EvidenceEntry{}, err
	}
	entry.OriginalName = strings.TrimSpace(u.FileName)
	return entry, nil
}

// BuildEvidence 计算 CID、生成随机 EvidenceID、打上上传时间。
// 内容必须完整到达后才能调用（CID 覆盖全部字节）；空内容返回 ErrEmptyPayload。
func BuildEvidence(content []byte, storedFileName, declaredType, description string) (model.EvidenceEntry, error) {
	return buildAt(content, storedFileName, declaredType, description, time.Now().UTC().Truncate(time.Millisecond))
}

func buildAt(content []byte, storedFileName, declaredType, description string, at time.Time) (model.EvidenceEntry, error) {
	if len(content) == 0 {
		return model.EvidenceEntry{}, fmt.Errorf("build evidence %q: %w", storedFileName, model.ErrEmptyPayload)
	}
	return model.EvidenceEntry{
		EvidenceID:  id.EvidenceID(),
		ContentID:   cid.Address(content),
		FileName:    storedFileName,
		UploadedAt:  at,
		Type:        model.ParseEvidenceType(declaredType),
		Description: strings.TrimSpace(description),
		SHA256:      hash.Bytes(content),
		SizeBytes:   int64(len(content)),
	}, nil
}

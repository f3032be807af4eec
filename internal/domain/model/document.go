package model

import (
	"fmt"
	"time"
)

// DocumentSchema 标识持久化文档的结构版本。
const DocumentSchema = "defir.case_store.v1"

// Document 是整个案件库的持久化形态：一个文档包含全部案件，每次变更整体重写。
type Document struct {
	Schema    string       `json:"schema"`
	UpdatedAt time.Time    `json:"updated_at"`
	Cases     []CaseRecord `json:"cases"`
}

// NewDocument 返回空文档（首次使用、文件不存在时）。
func NewDocument() *Document {
	return &Document{Schema: DocumentSchema, Cases: []CaseRecord{}}
}

// Find 按 caseID 查找案件，返回指向文档内元素的指针；不存在返回 nil。
func (d *Document) Find(caseID string) *CaseRecord {
	for i := range d.Cases {
		if d.Cases[i].CaseID == caseID {
			return &d.Cases[i]
		}
	}
	return nil
}

// Validate 做加载后的结构检查：caseID 唯一且非空、状态合法、时间线非空且与状态一致。
// 任何一项不满足都视为文档损坏（调用方包装为 ErrMalformedStore）。
func (d *Document) Validate() error {
	if d.Schema != "" && d.Schema != DocumentSchema {
		return fmt.Errorf("unsupported schema %q", d.Schema)
	}
	seen := make(map[string]struct{}, len(d.Cases))
	for i := range d.Cases {
		c := &d.Cases[i]
		if c.CaseID == "" {
			return fmt.Errorf("case #%d has empty case_id", i)
		}
		if _, dup := seen[c.CaseID]; dup {
			return fmt.Errorf("duplicate case_id %s", c.CaseID)
		}
		seen[c.CaseID] = struct{}{}

		if !c.Status.Valid() {
			return fmt.Errorf("case %s has invalid status %q", c.CaseID, c.Status)
		}
		last := c.LastTimeline()
		if last == nil {
			return fmt.Errorf("case %s has empty timeline", c.CaseID)
		}
		if last.Status != c.Status {
			return fmt.Errorf("case %s status %q does not match timeline %q", c.CaseID, c.Status, last.Status)
		}
	}
	return nil
}

// Normalize 补齐 nil slice，保证序列化结果稳定（[] 而不是 null）。
func (d *Document) Normalize() {
	if d.Schema == "" {
		d.Schema = DocumentSchema
	}
	if d.Cases == nil {
		d.Cases = []CaseRecord{}
	}
	for i := range d.Cases {
		if d.Cases[i].Evidence == nil {
			d.Cases[i].Evidence = []EvidenceEntry{}
		}
		if d.Cases[i].Timeline == nil {
			d.Cases[i].Timeline = []TimelineEntry{}
		}
	}
}

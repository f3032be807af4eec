// Package lifecycle 实现案件的状态迁移：立案、追加证据、变更状态。
//
// 每个操作都是一次 casestore 写事务，并且都会在时间线上追加一条记录。
// 时间线只追加：每条记录带 prev_hash/chain_hash，篡改任意一条都会让之后的链校验失败。
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"defir/internal/casestore"
	"defir/internal/domain/model"
	"defir/internal/platform/hash"
	"defir/internal/platform/id"
)

// NoteOpened 是立案时写入时间线的备注。
const NoteOpened = "case opened with initial evidence"

// Controller 负责案件状态机。
type Controller struct {
	store *casestore.Store
	now   func() time.Time
}

func New(store *casestore.Store) *Controller {
	return &Controller{store: store, now: time.Now}
}

// WithClock 替换时钟（测试用）。
func (c *Controller) WithClock(now func() time.Time) *Controller {
	return &Controller{store: c.store, now: now}
}

// OpenCase 以一条初始证据立案：状态 open，时间线一条，证据一条。
func (c *Controller) OpenCase(ctx context.Context, initial model.EvidenceEntry, victim string) (model.CaseRecord, error) {
	at := c.stamp()
	return c.store.Insert(ctx, at, func(caseID string) (model.CaseRecord, error) {
		rec := model.CaseRecord{
			CaseID:        caseID,
			Victim:        strings.TrimSpace(victim),
			OpenedAt:      at,
			SimulatedTxID: id.SimulatedTxID(),
			Evidence:      []model.EvidenceEntry{initial},
		}
		appendTimeline(&rec, at, model.StatusOpen, NoteOpened)
		return rec, nil
	})
}

// AddEvidence 追加证据，状态保持不变，时间线追加一条“New evidence added”。
func (c *Controller) AddEvidence(ctx context.Context, caseID string, ev model.EvidenceEntry) (model.CaseRecord, error) {
	at := c.stamp()
	return c.store.WithCase(ctx, caseID, func(rec *model.CaseRecord) error {
		rec.Evidence = append(rec.Evidence, ev)
		appendTimeline(rec, at, rec.Status, "New evidence added: "+ev.FileName)
		return nil
	})
}

// SetStatus 变更状态（允许任意两个合法状态之间迁移，包括原地不变），
// 备注为空时使用 "Case status updated to <status>"。
func (c *Controller) SetStatus(ctx context.Context, caseID string, status model.CaseStatus, note string) (model.CaseRecord, error) {
	if !status.Valid() {
		return model.CaseRecord{}, fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		note = DefaultStatusNote(status)
	}
	at := c.stamp()
	return c.store.WithCase(ctx, caseID, func(rec *model.CaseRecord) error {
		appendTimeline(rec, at, status, note)
		return nil
	})
}

// DefaultStatusNote 返回状态变更的默认备注。
func DefaultStatusNote(status model.CaseStatus) string {
	return "Case status updated to " + string(status)
}

// ChainHash 计算一条时间线记录的链式 hash。
// 覆盖 prev_hash、记录内容，以及该记录写入时已存在的全部证据（前 EvidenceCount 条）的
// evidence_id/content_id/sha256：追加证据那一条因此绑定了新证据，之后改动证据引用会让链校验失败。
// 字段按原样参与计算，备注首尾的空白也会改变结果。
func ChainHash(caseID string, evidence []model.EvidenceEntry, e model.TimelineEntry) string {
	n := min(max(e.EvidenceCount, 0), len(evidence))
	parts := make([]string, 0, 6+3*n)
	parts = append(parts,
		e.PrevHash,
		caseID,
		string(e.Status),
		e.Note,
		strconv.Itoa(e.EvidenceCount),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	for _, ev := range evidence[:n] {
		parts = append(parts, ev.EvidenceID, ev.ContentID, ev.SHA256)
	}
	return hash.Fields(parts...)
}

func (c *Controller) stamp() time.Time {
	return c.now().UTC().Truncate(time.Millisecond)
}

// appendTimeline 追加时间线记录并同步 rec.Status。时间戳不早于上一条。
func appendTimeline(rec *model.CaseRecord, at time.Time, status model.CaseStatus, note string) {
	prev := ""
	if last := rec.LastTimeline(); last != nil {
		prev = last.ChainHash
		if at.Before(last.Timestamp) {
			at = last.Timestamp
		}
	}
	e := model.TimelineEntry{
		Timestamp:     at,
		Status:        status,
		Note:          note,
		EvidenceCount: len(rec.Evidence),
		PrevHash:      prev,
	}
	e.ChainHash = ChainHash(rec.CaseID, rec.Evidence, e)
	rec.Timeline = append(rec.Timeline, e)
	rec.Status = status
}

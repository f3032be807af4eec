package model

import (
	"fmt"
	"strings"
	"time"
)

// CaseStatus 表示案件的调查状态，只允许下面四个取值。
type CaseStatus string

const (
	// StatusOpen 新立案（创建时的初始状态）。
	StatusOpen CaseStatus = "open"
	// StatusInProgress 调查中。
	StatusInProgress CaseStatus = "in-progress"
	// StatusUnderEvaluation 评估/研判中。
	StatusUnderEvaluation CaseStatus = "under-evaluation"
	// StatusConcluded 已结案。
	StatusConcluded CaseStatus = "concluded"
)

// AllStatuses 返回全部合法状态（按生命周期顺序）。
func AllStatuses() []CaseStatus {
	return []CaseStatus{StatusOpen, StatusInProgress, StatusUnderEvaluation, StatusConcluded}
}

// Valid 判断状态是否属于四个枚举值之一。
func (s CaseStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusUnderEvaluation, StatusConcluded:
		return true
	default:
		return false
	}
}

// ParseCaseStatus 把外部输入归一化为 CaseStatus。
// 兼容 "in-progress" / "in_progress" / "InProgress" 等写法；其它值返回 ErrInvalidStatus。
func ParseCaseStatus(raw string) (CaseStatus, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	switch s {
	case "inprogress":
		s = string(StatusInProgress)
	case "underevaluation":
		s = string(StatusUnderEvaluation)
	}
	st := CaseStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return st, nil
}

// EvidenceType 表示证据类别（仅做标注，不做文件类型校验）。
type EvidenceType string

const (
	EvidenceAudio    EvidenceType = "audio"
	EvidenceDocument EvidenceType = "document"
	EvidenceImage    EvidenceType = "image"
	EvidenceOther    EvidenceType = "other"
)

// ParseEvidenceType 归一化证据类别；为空或无法识别时回落为 document。
func ParseEvidenceType(raw string) EvidenceType {
	switch t := EvidenceType(strings.ToLower(strings.TrimSpace(raw))); t {
	case EvidenceAudio, EvidenceDocument, EvidenceImage, EvidenceOther:
		return t
	default:
		return EvidenceDocument
	}
}

// EvidenceEntry 是一条证据记录。创建后不可变，归属于唯一的 CaseRecord。
//
// 注意：这里刻意不保存本机文件路径，只保存内容标识（ContentID），
// 原始字节由 blobstore 按 CID 存取，记录可以在不同机器/目录之间迁移。
type EvidenceEntry struct {
	EvidenceID   string       `json:"evidence_id"`             // 随机 ID（非内容推导）
	ContentID    string       `json:"content_id"`              // 内容标识（CID）
	FileName     string       `json:"file_name"`               // 落盘名：毫秒时间戳-随机数-原始名
	OriginalName string       `json:"original_name,omitempty"` // 上传时的原始文件名
	UploadedAt   time.Time    `json:"uploaded_at"`
	Type         EvidenceType `json:"type"`
	Description  string       `json:"description"`
	SHA256       string       `json:"sha256"`
	SizeBytes    int64        `json:"size_bytes"`
}

// TimelineEntry 是案件时间线上的一条审计记录，只追加、不修改。
type TimelineEntry struct {
	Timestamp     time.Time  `json:"timestamp"`
	Status        CaseStatus `json:"status"`
	Note          string     `json:"note"`
	EvidenceCount int        `json:"evidence_count"` // 记录产生时的证据总数
	PrevHash      string     `json:"prev_hash,omitempty"`
	ChainHash     string     `json:"chain_hash"`
}

// CaseRecord 是一个案件的完整记录。
//
// 不变量：
// - Timeline 非空（创建即写入一条 open 记录）
// - Status 恒等于 Timeline 最后一条的 Status
type CaseRecord struct {
	CaseID   string     `json:"case_id"`
	Victim   string     `json:"victim,omitempty"`
	OpenedAt time.Time  `json:"opened_at"`
	Status   CaseStatus `json:"status"`

	// SimulatedTxID 是本地生成的随机占位“交易哈希”，没有任何链上含义。
	SimulatedTxID string `json:"simulated_tx_id,omitempty"`

	Evidence []EvidenceEntry `json:"evidence"`
	Timeline []TimelineEntry `json:"timeline"`
}

// UpdatedAt 返回案件最后一次变更时间（最后一条时间线记录）。
func (c *CaseRecord) UpdatedAt() time.Time {
	if len(c.Timeline) == 0 {
		return c.OpenedAt
	}
	return c.Timeline[len(c.Timeline)-1].Timestamp
}

// LastTimeline 返回最后一条时间线记录；时间线为空时返回 nil。
func (c *CaseRecord) LastTimeline() *TimelineEntry {
	if len(c.Timeline) == 0 {
		return nil
	}
	return &c.Timeline[len(c.Timeline)-1]
}

// Summary 生成列表页使用的摘要视图。
func (c *CaseRecord) Summary() CaseSummary {
	return CaseSummary{
		CaseID:        c.CaseID,
		Victim:        c.Victim,
		Status:        c.Status,
		OpenedAt:      c.OpenedAt,
		UpdatedAt:     c.UpdatedAt(),
		EvidenceCount: len(c.Evidence),
		TimelineCount: len(c.Timeline),
	}
}

// Clone 深拷贝记录，避免调用方持有的视图与存储文档共享底层 slice。
func (c CaseRecord) Clone() CaseRecord {
	out := c
	out.Evidence = append([]EvidenceEntry(nil), c.Evidence...)
	out.Timeline = append([]TimelineEntry(nil), c.Timeline...)
	if out.Evidence == nil {
		out.Evidence = []EvidenceEntry{}
	}
	if out.Timeline == nil {
		out.Timeline = []TimelineEntry{}
	}
	return out
}

// CaseSummary 是案件摘要，便于 UI 首页/CLI 列表展示。
type CaseSummary struct {
	CaseID        string     `json:"case_id"`
	Victim        string     `json:"victim,omitempty"`
	Status        CaseStatus `json:"status"`
	OpenedAt      time.Time  `json:"opened_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	EvidenceCount int        `json:"evidence_count"`
	TimelineCount int        `json:"timeline_count"`
}

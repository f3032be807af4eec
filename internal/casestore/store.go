// Package casestore 是案件库的唯一读写入口。
//
// 整个案件库持久化为一个文档，每次变更都是“全量读取 -> 内存修改 -> 全量写回”。
// 这个读改写周期必须串行，否则两个并发写者会基于同一份旧快照各自写回，
// 后写的一方覆盖先写的一方（丢失更新）。因此 Store 内部持有一把读写锁：
// - 写操作（Insert/WithCase/Update/Save）持有写锁覆盖整个 Load -> mutate -> Save
// - 只读操作（Load/Get/List）持有读锁，读者之间可并发，但不会与进行中的写者交错
//
// 读写锁只在进程内有效。serve、mcp 与 CLI 是各自独立的进程，所以当 Backend 实现了
// Locker 时，写周期还会持有 "<path>.lock" 上的排他文件锁，读操作持有共享文件锁。
//
// Backend 自身还保证原子替换（临时文件 + rename / 事务），即使有进程外的读者也只会看到完整文档。
package casestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"defir/internal/domain/model"
	"defir/internal/platform/filelock"
	"defir/internal/platform/id"
)

// Backend 是持久化文档的存取实现。
//
// 约定：
// - Load 在文档不存在时返回空文档（不是错误）
// - Load 在文档无法解析时返回包装了 model.ErrMalformedStore 的错误，绝不能当作“没有案件”
// - Save 必须原子替换整个文档
type Backend interface {
	Load(ctx context.Context) (*model.Document, error)
	Save(ctx context.Context, doc *model.Document) error
}

// Locker 由持久化在本地文件上的 Backend 实现，返回跨进程锁文件路径。
// 返回空串表示不需要文件锁。
type Locker interface {
	LockPath() string
}

// Store 封装 Backend，并提供串行化的变更入口。
type Store struct {
	mu       sync.RWMutex
	backend  Backend
	lockPath string
	now      func() time.Time
}

func New(backend Backend) *Store {
	s := &Store{backend: backend, now: time.Now}
	if l, ok := backend.(Locker); ok {
		s.lockPath = l.LockPath()
	}
	return s
}

// Load 读取当前完整文档（读锁）。返回的文档归调用方所有，修改它不会影响存储。
func (s *Store) Load(ctx context.Context) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock, err := s.lockFile(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.load(ctx)
}

// Save 整体写回文档（写锁）。一般业务不应直接调用，优先使用 WithCase/Insert。
func (s *Store) Save(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()
	return s.save(ctx, doc)
}

// Update 在写锁内执行一次完整的读改写。fn 返回错误时不写回，存储保持不变。
// 进程内写锁与跨进程文件锁都覆盖整个 Load -> fn -> Save。
func (s *Store) Update(ctx context.Context, fn func(doc *model.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(ctx, doc)
}

// WithCase 是修改已有案件的唯一入口：加载全量文档，定位案件（不存在返回 ErrNotFound），
// 对内存中的记录执行 mutate，然后全量写回。返回变更后的记录副本。
func (s *Store) WithCase(ctx context.Context, caseID string, mutate func(rec *model.CaseRecord) error) (model.CaseRecord, error) {
	var out model.CaseRecord
	err := s.Update(ctx, func(doc *model.Document) error {
		rec := doc.Find(caseID)
		if rec == nil {
			return fmt.Errorf("%w: %s", model.ErrNotFound, caseID)
		}
		if err := mutate(rec); err != nil {
			return err
		}
		out = rec.Clone()
		return nil
	})
	if err != nil {
		return model.CaseRecord{}, err
	}
	return out, nil
}

// Insert 在写锁内分配一个唯一 caseID（由 at 推导），调用 build 生成记录并追加到文档。
func (s *Store) Insert(ctx context.Context, at time.Time, build func(caseID string) (model.CaseRecord, error)) (model.CaseRecord, error) {
	var out model.CaseRecord
	err := s.Update(ctx, func(doc *model.Document) error {
		caseID := NextCaseID(doc, at)
		rec, err := build(caseID)
		if err != nil {
			return err
		}
		if rec.CaseID != caseID {
			return fmt.Errorf("insert case: builder changed case id %s -> %s", caseID, rec.CaseID)
		}
		doc.Cases = append(doc.Cases, rec)
		out = rec.Clone()
		return nil
	})
	if err != nil {
		return model.CaseRecord{}, err
	}
	return out, nil
}

// Records 从同一份快照返回全部案件记录的副本，顺序与 List 一致（最新在前）。
func (s *Store) Records(ctx context.Context) ([]model.CaseRecord, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CaseRecord, 0, len(doc.Cases))
	for i := range doc.Cases {
		out = append(out, doc.Cases[i].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newerFirst(out[i].OpenedAt, out[i].CaseID, out[j].OpenedAt, out[j].CaseID)
	})
	return out, nil
}

// Get 返回单个案件的副本；不存在返回 ErrNotFound。
func (s *Store) Get(ctx context.Context, caseID string) (model.CaseRecord, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return model.CaseRecord{}, err
	}
	rec := doc.Find(caseID)
	if rec == nil {
		return model.CaseRecord{}, fmt.Errorf("%w: %s", model.ErrNotFound, caseID)
	}
	return rec.Clone(), nil
}

// List 返回案件摘要，按立案时间倒序（最新在前）。
func (s *Store) List(ctx context.Context) ([]model.CaseSummary, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CaseSummary, 0, len(doc.Cases))
	for i := range doc.Cases {
		out = append(out, doc.Cases[i].Summary())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newerFirst(out[i].OpenedAt, out[i].CaseID, out[j].OpenedAt, out[j].CaseID)
	})
	return out, nil
}

func newerFirst(aAt time.Time, aID string, bAt time.Time, bID string) bool {
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return aID > bID
}

// NextCaseID 由时间推导 caseID；与已有案件冲突时追加 -2、-3 ... 直到唯一。
// 必须在写锁内调用，否则两个并发创建可能拿到同一个 ID。
func NextCaseID(doc *model.Document, at time.Time) string {
	base := id.CaseID(at)
	if doc.Find(base) == nil {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if doc.Find(candidate) == nil {
			return candidate
		}
	}
}

// lockFile 持有跨进程文件锁，返回释放函数。调用方必须已持有进程内的 mu。
func (s *Store) lockFile(ctx context.Context, exclusive bool) (func(), error) {
	if s.lockPath == "" {
		return func() {}, nil
	}
	var (
		l   *filelock.Lock
		err error
	)
	if exclusive {
		l, err = filelock.Exclusive(ctx, s.lockPath)
	} else {
		l, err = filelock.Shared(ctx, s.lockPath)
	}
	if err != nil {
		return nil, fmt.Errorf("lock case store: %w", err)
	}
	return func() { _ = l.Unlock() }, nil
}

func (s *Store) load(ctx context.Context) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load case store: %w", err)
	}
	if doc == nil {
		doc = model.NewDocument()
	}
	doc.Normalize()
	return doc, nil
}

func (s *Store) save(ctx context.Context, doc *model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc.Normalize()
	// 写回前再做一次结构校验：不满足不变量的文档一律不落盘。
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("refuse to save invalid document: %w", err)
	}
	doc.UpdatedAt = s.now().UTC()
	if err := s.backend.Save(ctx, doc); err != nil {
		return fmt.Errorf("save case store: %w", err)
	}
	return nil
}

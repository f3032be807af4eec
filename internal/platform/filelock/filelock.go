// Package filelock 提供基于旁路锁文件的跨进程互斥。
//
// serve、mcp 与 CLI 子命令是各自独立的进程，却读写同一份案件库；
// 进程内的 sync.Mutex 管不到别的进程，所以读改写周期还要再持有一把 OS 文件锁。
// 锁加在独立的 "<path>.lock" 文件上，文档本身仍通过 rename 原子替换，不受影响。
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// pollInterval 是锁被占用时的重试间隔。阻塞式加锁无法响应 ctx，所以用非阻塞 + 轮询。
const pollInterval = 5 * time.Millisecond

// errWouldBlock 由平台实现返回，表示锁当前被其他持有者占用。
var errWouldBlock = errors.New("lock held by another owner")

// Lock 是一把已持有的文件锁。
type Lock struct {
	f *os.File
}

// Exclusive 获取排他锁，直到成功或 ctx 结束。
func Exclusive(ctx context.Context, path string) (*Lock, error) {
	return acquire(ctx, path, true)
}

// Shared 获取共享锁：多个读者可同时持有，但与排他锁互斥。
func Shared(ctx context.Context, path string) (*Lock, error) {
	return acquire(ctx, path, false)
}

// Unlock 释放锁并关闭锁文件。锁文件本身保留，供后续进程复用。
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

func acquire(ctx context.Context, path string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		err := tryLockFile(f, exclusive)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if !errors.Is(err, errWouldBlock) {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}

//go:build !unix && !windows

package filelock

import "os"

// 没有文件锁的平台（js/wasip1 等）只剩进程内互斥。
func tryLockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }

// Package id 集中放置所有“随机令牌”类标识的生成逻辑。
//
// 与 cid 包（内容寻址，确定性）刻意分开：这里的标识都不从内容推导，
// 后续若接入真实链上交易/网络发布，只需要替换本包中的对应函数。
package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// New 生成带前缀的简易唯一 ID：
// prefix + 毫秒时间戳 + 随机后缀。
// 这种格式便于日志阅读，也基本满足本地场景下的唯一性。
func New(prefix string) string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// Hex 返回 n 字节强随机数的 hex 编码（长度固定为 2n）。
func Hex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// EvidenceID 生成证据 ID：64 bit 随机数，16 位 hex。
// 同一份字节上传两次会得到不同的 EvidenceID（但 CID 相同）。
func EvidenceID() string {
	return Hex(8)
}

// SimulatedTxID 生成“模拟交易哈希”：0x + 256 bit 随机数的 64 位 hex。
// 它没有任何链上可验证含义，只是本地占位标识。
func SimulatedTxID() string {
	return "0x" + Hex(32)
}

// CaseID 由创建时间推导案件 ID（FIR-毫秒时间戳）。
// 唯一性由调用方在写锁内对照现有案件保证，见 casestore.NextCaseID。
func CaseID(at time.Time) string {
	return fmt.Sprintf("FIR-%d", at.UnixMilli())
}

// StoredFileName 生成证据落盘名：毫秒时间戳-9位随机数-原始文件名。
// 原始文件名只保留 base name，并替换掉路径分隔符等不安全字符。
func StoredFileName(original string, at time.Time) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	n := binary.BigEndian.Uint64(buf[:]) % 1_000_000_000
	return fmt.Sprintf("%d-%09d-%s", at.UnixMilli(), n, SanitizeFileName(original))
}

// SanitizeFileName 把用户提供的文件名收敛为安全的单段名称。
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "upload.bin"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 32 || r == 127:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

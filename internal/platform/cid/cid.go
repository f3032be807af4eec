// Package cid 负责“内容寻址”：把文件字节映射成稳定、可展示的内容标识（CID）。
//
// 这里只模拟 IPFS CIDv0 的外观（multihash 前缀 + base58），不做任何网络发布。
// 标识只取决于字节内容，与文件名、上传时间、上传顺序无关。
package cid

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

// Alphabet 是 Bitcoin/IPFS 使用的 base58 字母表（不含 0 O I l）。
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// multihash 前缀：0x12 = sha2-256，0x20 = 32 字节摘要长度。
var sha256Tag = [2]byte{0x12, 0x20}

// fallbackPrefix 用于 base58 结果为空时的兜底标识（hex 摘要截断）。
const fallbackPrefix = "QmLocal"

// Address 计算 b 的内容标识。纯函数，任何输入（包括空字节）都返回非空结果。
func Address(b []byte) string {
	sum := sha256.Sum256(b)

	tagged := make([]byte, 0, len(sha256Tag)+len(sum))
	tagged = append(tagged, sha256Tag[:]...)
	tagged = append(tagged, sum[:]...)

	if s := encodeBase58(tagged); s != "" {
		return s
	}
	return fallbackPrefix + hex.EncodeToString(sum[:])[:50]
}

// encodeBase58 把输入视为一个大端整数，反复除以 58 取余得到各位数字。
// 注意：按整数值编码，前导 0 字节不会产生 '1'；全 0 输入得到空串，由调用方兜底。
func encodeBase58(b []byte) string {
	num := new(big.Int).SetBytes(b)
	if num.Sign() == 0 {
		return ""
	}

	base := big.NewInt(58)
	mod := new(big.Int)
	out := make([]byte, 0, len(b)*138/100+1)
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		out = append(out, Alphabet[mod.Int64()])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// Valid 判断 s 是否形如本包生成的标识，用于拒绝明显非法的下载/查询参数。
func Valid(s string) bool {
	if s == "" {
		return false
	}
	if len(s) > len(fallbackPrefix) && s[:len(fallbackPrefix)] == fallbackPrefix {
		_, err := hex.DecodeString(s[len(fallbackPrefix):])
		return err == nil
	}
	for i := 0; i < len(s); i++ {
		if !isBase58Char(s[i]) {
			return false
		}
	}
	return true
}

func isBase58Char(c byte) bool {
	switch {
	case c >= '1' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return c != 'I' && c != 'O'
	case c >= 'a' && c <= 'z':
		return c != 'l'
	default:
		return false
	}
}

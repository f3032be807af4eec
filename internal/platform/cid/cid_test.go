package cid

import (
	"crypto/sha256"
	"strings"
	"testing"
)

func TestAddress_Deterministic(t *testing.T) {
	a := Address([]byte("hello"))
	b := Address([]byte("hello"))
	if a != b {
		t.Fatalf("same bytes must give same cid: %s vs %s", a, b)
	}
	if c := Address([]byte("hello!")); c == a {
		t.Fatalf("different bytes gave same cid: %s", c)
	}
}

func TestAddress_CIDv0Shape(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("hello"),
		make([]byte, 4096),
		{0x00, 0x00, 0x01},
	}
	for _, in := range inputs {
		got := Address(in)
		if got == "" {
			t.Fatalf("empty cid for input len=%d", len(in))
		}
		// 0x1220 + 32 字节摘要的 base58 结果固定为 Qm 开头、46 位。
		if !strings.HasPrefix(got, "Qm") || len(got) != 46 {
			t.Fatalf("unexpected cid shape: %q", got)
		}
		if strings.ContainsAny(got, "0OIl") {
			t.Fatalf("cid contains excluded chars: %q", got)
		}
		if !Valid(got) {
			t.Fatalf("Valid(%q) = false", got)
		}
	}
}

func TestAddress_MatchesReferenceEncoding(t *testing.T) {
	in := []byte("evidence bytes")
	sum := sha256.Sum256(in)
	tagged := append([]byte{0x12, 0x20}, sum[:]...)

	if got, want := Address(in), referenceBase58(tagged); got != want {
		t.Fatalf("cid mismatch: got %s want %s", got, want)
	}
}

func TestEncodeBase58_ZeroValue(t *testing.T) {
	if got := encodeBase58([]byte{0, 0, 0}); got != "" {
		t.Fatalf("all-zero input should encode to empty string, got %q", got)
	}
	if got := encodeBase58([]byte{57}); got != "z" {
		t.Fatalf("57 should encode to z, got %q", got)
	}
	if got := encodeBase58([]byte{58}); got != "21" {
		t.Fatalf("58 should encode to 21, got %q", got)
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"":                 false,
		"Qm0bad":           false,
		"../../etc/passwd": false,
		"QmLocalabcdef":    true,
		"QmLocalxyz":       false,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Fatalf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}

// referenceBase58 用逐字节大数除法实现同一编码，用来交叉校验 big.Int 版本。
func referenceBase58(b []byte) string {
	digits := []byte{}
	num := append([]byte{}, b...)
	for {
		allZero := true
		for _, x := range num {
			if x != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			break
		}
		rem := 0
		for i, x := range num {
			acc := rem*256 + int(x)
			num[i] = byte(acc / 58)
			rem = acc % 58
		}
		digits = append(digits, Alphabet[rem])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

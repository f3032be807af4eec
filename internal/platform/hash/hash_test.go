package hash

import (
	"strings"
	"testing"
)

func TestFields_BindsRawBytes(t *testing.T) {
	base := Fields("prev", "note")
	if base != Fields("prev", "note") {
		t.Fatalf("Fields is not deterministic")
	}
	for name, parts := range map[string][]string{
		"trailing space": {"prev", "note "},
		"leading space":  {"prev", " note"},
		"newline":        {"prev", "note\n"},
		"shifted split":  {"pre", "vnote"},
		"joined":         {"prev\nnote"},
	} {
		if got := Fields(parts...); got == base {
			t.Fatalf("%s: Fields(%q) collides with Fields(prev, note)", name, parts)
		}
	}
}

func TestText_TrimsParts(t *testing.T) {
	if Text(" a ", "b\n") != Text("a", "b") {
		t.Fatalf("Text should ignore surrounding whitespace")
	}
}

func TestReader(t *testing.T) {
	sum, n, err := Reader(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if n != 5 || sum != Bytes([]byte("hello")) {
		t.Fatalf("Reader = %s, %d", sum, n)
	}
}

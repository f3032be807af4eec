package blobstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"defir/internal/platform/cid"
)

func TestPutGet_AllCompressions(t *testing.T) {
	ctx := context.Background()
	text := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200))
	tiny := []byte("hi")

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		s, err := New(t.TempDir(), c)
		if err != nil {
			t.Fatalf("New(%s): %v", c, err)
		}
		for _, content := range [][]byte{text, tiny} {
			id := cid.Address(content)
			created, err := s.Put(ctx, id, content)
			if err != nil {
				t.Fatalf("%s Put: %v", c, err)
			}
			if !created {
				t.Fatalf("%s first Put should create", c)
			}
			got, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("%s Get: %v", c, err)
			}
			if !bytes.Equal(got, content) {
				t.Fatalf("%s round trip mismatch", c)
			}
			if !s.Has(id) {
				t.Fatalf("%s Has = false", c)
			}
		}
	}
}

func TestPut_DeduplicatesByCID(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), CompressionZstd)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	content := []byte("hello")
	id := cid.Address(content)
	if _, err := s.Put(ctx, id, content); err != nil {
		t.Fatalf("Put: %v", err)
	}
	created, err := s.Put(ctx, id, content)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if created {
		t.Fatalf("second Put should not create")
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), id[len(id)-2:]))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stored file, got %d", len(entries))
	}
}

func TestPut_RejectsMismatchAndBadIDs(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), CompressionNone)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Put(ctx, cid.Address([]byte("a")), []byte("b")); err == nil {
		t.Fatalf("expected mismatch error")
	}
	if _, err := s.Get(ctx, "../../etc/passwd"); err == nil || errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
	if _, err := s.Get(ctx, cid.Address([]byte("missing"))); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestParseCompression(t *testing.T) {
	if c, err := ParseCompression(""); err != nil || c != CompressionZstd {
		t.Fatalf("default = %s, %v", c, err)
	}
	if c, err := ParseCompression(" LZ4 "); err != nil || c != CompressionLZ4 {
		t.Fatalf("lz4 = %s, %v", c, err)
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Fatalf("expected error for gzip")
	}
}

package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a, b := NewID("doc"), NewID("doc")
	if a == b {
		t.Fatal("ids must be unique")
	}
	if !strings.HasPrefix(a, "doc_") || len(a) != len("doc_")+32 {
		t.Fatalf("unexpected id %q", a)
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("unprefixed id should not contain a separator")
	}
}

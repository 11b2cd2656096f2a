package spillfile

import (
	"strings"
	"testing"
)

func TestPathStableForSameIdx(t *testing.T) {
	f, err := NewFactory(t.TempDir())
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	p1, err := f.Path(7)
	if err != nil {
		t.Fatalf("Path(7): %v", err)
	}
	p2, err := f.Path(7)
	if err != nil {
		t.Fatalf("Path(7) again: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("repeated Path(7) diverged: %q vs %q", p1, p2)
	}
}

func TestPathDiffersAcrossIdx(t *testing.T) {
	f, err := NewFactory(t.TempDir())
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	p1, _ := f.Path(1)
	p2, _ := f.Path(2)
	if p1 == p2 {
		t.Fatalf("distinct idx produced the same path: %q", p1)
	}
}

func TestFactoriesDoNotCollide(t *testing.T) {
	root := t.TempDir()
	f1, err := NewFactory(root)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	f2, err := NewFactory(root)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	if f1.Dir() == f2.Dir() {
		t.Fatalf("two factories under the same root got the same scratch dir: %q", f1.Dir())
	}
}

func TestPathTooLong(t *testing.T) {
	f := &Factory{dir: strings.Repeat("a", maxPathLen)}
	if _, err := f.Path(0); err != ErrPathTooLong {
		t.Fatalf("got err=%v, want ErrPathTooLong", err)
	}
}

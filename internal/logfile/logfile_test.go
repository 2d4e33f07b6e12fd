package logfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenAndWritePlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "line0.log")
	reg := &Registry{}

	ref, err := reg.Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ref.Write('A'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ref.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "A" {
		t.Fatalf("got %q, want %q", data, "A")
	}
}

func TestLogSentinelSharesRefcount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.log")
	reg := &Registry{}
	if err := reg.BindLog(path, false); err != nil {
		t.Fatalf("BindLog: %v", err)
	}

	ref1, err := reg.Open("LOG", false)
	if err != nil {
		t.Fatalf("Open LOG: %v", err)
	}
	ref2, err := reg.Open("LOG", false)
	if err != nil {
		t.Fatalf("Open LOG: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("two opens of LOG should return the same Ref")
	}

	ref1.Write('x')
	if err := ref1.Close(); err != nil {
		t.Fatalf("Close ref1: %v", err)
	}
	// ref2 still holds a reference; underlying file must still be open.
	if err := ref2.Write('y'); err != nil {
		t.Fatalf("ref2 write should still succeed: %v", err)
	}
	if err := ref2.Close(); err != nil {
		t.Fatalf("Close ref2: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "xy" {
		t.Fatalf("got %q, want %q", data, "xy")
	}
}

func TestOpenUnboundLogFails(t *testing.T) {
	reg := &Registry{}
	if _, err := reg.Open("LOG", false); err == nil {
		t.Fatalf("expected error opening LOG before BindLog")
	}
}

func TestStdoutSentinelNeverCloses(t *testing.T) {
	reg := &Registry{}
	ref, err := reg.Open("STDOUT", false)
	if err != nil {
		t.Fatalf("Open STDOUT: %v", err)
	}
	if err := ref.Close(); err != nil {
		t.Fatalf("Close STDOUT ref: %v", err)
	}
}

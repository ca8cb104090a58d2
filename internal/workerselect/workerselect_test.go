package workerselect

import (
	"context"
	"testing"
)

func TestFixedSelect(t *testing.T) {
	f := NewFixed("http://worker.local:8081")
	got, err := f.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != "http://worker.local:8081" {
		t.Errorf("Select() = %q, want %q", got, "http://worker.local:8081")
	}
}

package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0600); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(dir, "sub", "b")
	if err := os.WriteFile(single, make([]byte, 5), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"directory", []string{dir}, 15},
		{"single file", []string{single}, 5},
		{"missing is skipped", []string{filepath.Join(dir, "nope"), single, ""}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DiskUsageBytes = %d, want %d", got, tt.want)
			}
		})
	}
}

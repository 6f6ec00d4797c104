package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataDirXDGOverride(t *testing.T) {
	original := os.Getenv("XDG_DATA_HOME")
	t.Cleanup(func() {
		if original != "" {
			os.Setenv("XDG_DATA_HOME", original)
		} else {
			os.Unsetenv("XDG_DATA_HOME")
		}
	})

	os.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DefaultDataDir(), "/custom/data/nesdb"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	original := os.Getenv("HOME")
	os.Unsetenv("HOME")
	t.Cleanup(func() {
		if original != "" {
			os.Setenv("HOME", original)
		}
	})

	if got := DefaultDataDir(); got != "./data" {
		t.Errorf("expected fallback to './data', got %s", got)
	}
}

func TestIsDir(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "existing directory", path: ".", expected: true},
		{name: "non-existent path", path: "/non/existent/path/that/does/not/exist", expected: false},
		{name: "file instead of directory", path: os.Args[0], expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDir(tt.path); got != tt.expected {
				t.Errorf("isDir(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestDefaultDataDirCrossPlatform(t *testing.T) {
	result := DefaultDataDir()
	if result == "" {
		t.Error("DefaultDataDir should not return empty string")
	}
	if !filepath.IsAbs(result) && !strings.HasPrefix(result, "./") {
		t.Errorf("DefaultDataDir should return absolute path or start with ./, got %s", result)
	}
	if !strings.Contains(result, "nesdb") {
		t.Errorf("DefaultDataDir should contain 'nesdb' in the path, got %s", result)
	}
}

func TestDefaultDataDirConsistency(t *testing.T) {
	if a, b := DefaultDataDir(), DefaultDataDir(); a != b {
		t.Errorf("DefaultDataDir should be consistent, got %s and %s", a, b)
	}
}

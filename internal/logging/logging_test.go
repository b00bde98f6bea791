package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/Lechros/chatda/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("expected error for %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for %q: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("expected %v for %q, got %v", tt.want, tt.in, got)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatda.log")
	logger, err := New(config.ServerConfig{Name: "chatda", LogFile: path, LogLevel: "info"}, true)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) || !strings.Contains(string(data), `"service":"chatda"`) {
		t.Errorf("unexpected log contents: %s", data)
	}
}

func TestNewStdioWithoutFileIsSilent(t *testing.T) {
	logger, err := New(config.ServerConfig{Name: "chatda"}, true)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected a no-op logger in stdio mode without a log file")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(config.ServerConfig{LogLevel: "loud"}, false); err == nil {
		t.Error("expected error for bad level")
	}
}

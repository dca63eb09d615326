package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		fallback  string
		want      string
	}{
		{0, "", "info"},
		{0, "warn", "warn"},
		{1, "warn", "debug"},
		{2, "", "trace"},
		{5, "error", "trace"},
	}
	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity, tt.fallback); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d, %q) = %q, want %q", tt.verbosity, tt.fallback, got, tt.want)
		}
	}
}

func TestApplyWritesRotatingFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	path := filepath.Join(t.TempDir(), "logs", "quicksell.log")
	Apply("debug", nil, path)

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("global level = %v, want debug", zerolog.GlobalLevel())
	}

	log.Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log file to contain the message")
	}
}

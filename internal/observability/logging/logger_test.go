package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_Level(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		Init(Config{Level: tt.level, Format: "json"})
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("Init(%q) level = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	if err := SetLevel("error"); err != nil {
		t.Fatal(err)
	}
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Errorf("expected error level, got %v", zerolog.GlobalLevel())
	}
	if err := SetLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Error("failed SetLevel must not change the level")
	}
}

package logger

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "debug", "console", false},
		{"upper case level", "WARN", "text", false},
		{"bad level", "loud", "json", true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if log == nil {
				t.Fatal("expected logger, got nil")
			}
		})
	}
}

func TestMust_FallsBackToNop(t *testing.T) {
	log := Must("nonsense", "json")
	if log == nil {
		t.Fatal("expected a logger")
	}
	// must not panic
	log.Info("discarded")
}

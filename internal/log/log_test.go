package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitLevels(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"default", Options{}, false, true, true},
		{"debug", Options{Debug: true}, true, true, true},
		{"quiet", Options{Quiet: true}, false, false, true},
		{"debug wins over quiet", Options{Debug: true, Quiet: true}, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Stderr = &buf
			Init(tt.opts)

			Debug("debug message")
			Info("info message")
			Warn("warn message")

			output := buf.String()
			if got := strings.Contains(output, "debug message"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(output, "info message"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(output, "warn message"); got != tt.wantWarn {
				t.Errorf("warn logged = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{JSONFormat: true, Stderr: &buf})

	Info("structured message", "adapter", "postgres", "version", "1.0.0")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "structured message" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["adapter"] != "postgres" {
		t.Errorf("adapter = %v", record["adapter"])
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Stderr: &buf})

	With("adapter", "snowflake").Info("scoped")

	if !strings.Contains(buf.String(), "adapter=snowflake") {
		t.Errorf("attribute missing from output: %s", buf.String())
	}
}

package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/sarvekshan/internal/config"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level   string
		infoOn  bool
		debugOn bool
	}{
		{"info", true, false},
		{"debug", true, true},
		{"error", false, false},
		{"bogus", true, false},
	}
	for _, tt := range tests {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
		if err != nil {
			t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
		}
		if got := logger.Core().Enabled(zapcore.InfoLevel); got != tt.infoOn {
			t.Errorf("NewLogger(%q) info enabled = %v, want %v", tt.level, got, tt.infoOn)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.debugOn {
			t.Errorf("NewLogger(%q) debug enabled = %v, want %v", tt.level, got, tt.debugOn)
		}
		_ = logger.Sync()
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"9876543210", "******3210"},
		{"12345", "*2345"},
		{"1234", "****"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskPhone(tt.in); got != tt.want {
			t.Errorf("MaskPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPhoneField_neverLogsFullNumber(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("otp sent", PhoneField("9876543210"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["phone"] != "******3210" {
		t.Errorf("phone = %v, want masked", entry["phone"])
	}
	if bytes.Contains(buf.Bytes(), []byte("9876543210")) {
		t.Error("full phone number leaked into the log line")
	}
}

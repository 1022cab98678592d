package telemetry

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/ragchat/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", false)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatalf("expected debug level to be enabled")
	}
	if _, err := NewLogger("loud", false); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestSetupTracingDisabled(t *testing.T) {
	tr, err := SetupTracing(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("SetupTracing: %v", err)
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

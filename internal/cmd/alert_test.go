package cmd

import (
	"testing"

	"github.com/ponderengine/core/internal/alert"
	"github.com/ponderengine/core/internal/config"
)

func TestAlertSenderNilWhenUnconfigured(t *testing.T) {
	sender, err := alertSender(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender != nil {
		t.Fatalf("expected nil sender for an unconfigured alert block")
	}
}

func TestAlertSenderRejectsUnsupportedType(t *testing.T) {
	_, err := alertSender(&config.Alert{Type: "pagerduty", URL: "http://example"})
	if err == nil {
		t.Fatalf("expected an error for an unsupported alert type")
	}
}

func TestAlertSenderBuildsWebhookSender(t *testing.T) {
	sender, err := alertSender(&config.Alert{Type: "webhook", URL: "http://example", Method: "POST"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender == nil {
		t.Fatalf("expected a non-nil sender for a configured webhook alert")
	}
}

func TestSendFatalNoopsWithoutSender(t *testing.T) {
	// Must not panic or block when no sender is configured.
	sendFatal(nil, nil, alert.FatalReport{Severity: "unrecoverable"})
}

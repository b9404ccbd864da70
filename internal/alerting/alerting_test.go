package alerting

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsEnabled_FalseWhenNoURL(t *testing.T) {
	n := NewNotifier("", discardLogger())
	if n.IsEnabled() {
		t.Error("expected notifier with no webhook URL to be disabled")
	}
}

func TestPost_NoopWhenDisabled(t *testing.T) {
	n := NewNotifier("", discardLogger())
	if err := n.Post(context.Background(), Payload{Kind: "budget"}); err != nil {
		t.Errorf("Post() on disabled notifier should be nil, got %v", err)
	}
}

func TestPost_SendsPayloadWhenEnabled(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, discardLogger())
	if !n.IsEnabled() {
		t.Fatal("expected notifier to be enabled with a webhook URL")
	}
	if err := n.BudgetCrossing(context.Background(), "llm", 0.8); err != nil {
		t.Fatalf("BudgetCrossing() error = %v", err)
	}

	select {
	case p := <-received:
		if p.Kind != "budget" || p.Service != "llm" {
			t.Errorf("received payload = %+v", p)
		}
	default:
		t.Fatal("expected webhook to receive a payload")
	}
}

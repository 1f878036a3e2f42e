package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/target/mmk-autoingest/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#ingest",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{
		Event:      notify.EventJobFailed,
		JobID:      "123",
		CaseName:   "case-7",
		DataSource: "laptop.e01",
		HostName:   "node-b",
		StatusKind: "errored",
		Message:    "carver crashed",
		ErrorClass: "test_error",
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	if msg["channel"] != "#ingest" {
		t.Fatalf("expected channel to be set, got %v", msg["channel"])
	}

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	if !containsAll(
		text,
		[]string{"Ingest job failed", "case-7 / laptop.e01", "node-b", "errored", "carver crashed", "test_error", "123"},
	) {
		t.Fatalf("message text missing fields: %s", text)
	}
}

func TestFormatMessageReclaimHeader(t *testing.T) {
	client, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/services/test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{Event: notify.EventJobReclaimed, CaseName: "c"})
	text, _ := msg["text"].(string)
	if !strings.HasPrefix(text, "*Ingest job reclaimed*") {
		t.Fatalf("expected reclaim header, got: %s", text)
	}
}

func TestFormatMessageJobLink(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL:   "https://hooks.slack.com/services/test",
		JobURLPrefix: "https://ingest.example/api/jobs",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{CaseName: "case 1", DataSource: "img"})
	text, _ := msg["text"].(string)

	expected := "<https://ingest.example/api/jobs/case%201/img|case 1 / img>"
	if !strings.Contains(text, expected) {
		t.Fatalf("expected job link %q in text: %s", expected, text)
	}
}

func TestFormatMessageEscapesText(t *testing.T) {
	client, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/services/test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{
		CaseName:   "a & <b>",
		DataSource: "src",
	})
	text, _ := msg["text"].(string)

	if !strings.Contains(text, "a &amp; &lt;b&gt; / src") {
		t.Fatalf("expected escaped subject, got: %s", text)
	}
}

func TestSendJobFailurePosts(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SendJobFailure(context.Background(), notify.JobFailurePayload{CaseName: "c", DataSource: "d"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["username"] != "autoingest" {
		t.Fatalf("expected default username, got %v", got["username"])
	}
}

func containsAll(text string, substrs []string) bool {
	for _, s := range substrs {
		if !strings.Contains(text, s) {
			return false
		}
	}
	return true
}

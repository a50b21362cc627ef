package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestDiscord(t *testing.T, handler http.HandlerFunc) *Discord {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Discord{
		webhookURL: srv.URL,
		chunkDelay: 0,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     testLogger(),
	}
}

func decodeContent(t *testing.T, r *http.Request) string {
	t.Helper()
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		t.Fatalf("decode webhook payload: %v", err)
	}
	return payload.Content
}

func TestDiscordSendSingleMessage(t *testing.T) {
	var contents []string
	d := newTestDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		contents = append(contents, decodeContent(t, r))
		w.WriteHeader(http.StatusNoContent)
	})

	if err := d.Send(context.Background(), "short update"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(contents) != 1 || contents[0] != "short update" {
		t.Errorf("webhook received %v, want one unmodified message", contents)
	}
}

func TestDiscordSendChunksLongDocument(t *testing.T) {
	var contents []string
	d := newTestDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		contents = append(contents, decodeContent(t, r))
		w.WriteHeader(http.StatusNoContent)
	})

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(strings.Repeat("x", 40))
		b.WriteString("\n")
	}

	if err := d.Send(context.Background(), b.String()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(contents) < 2 {
		t.Fatalf("webhook received %d messages, want several chunks", len(contents))
	}
	for i, c := range contents {
		if len(c) > discordMaxChars {
			t.Errorf("chunk %d is %d chars, exceeds limit", i, len(c))
		}
	}
	if !strings.HasPrefix(contents[1], "(Part 2) ...") {
		t.Errorf("second chunk missing part marker: %q", contents[1][:40])
	}
}

func TestDiscordSendChunkFailureAborts(t *testing.T) {
	var calls int
	d := newTestDiscord(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		decodeContent(t, r)
		w.WriteHeader(http.StatusBadRequest)
	})
	// 400s are retried; cap the wait so the test stays quick.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(strings.Repeat("x", 40))
		b.WriteString("\n")
	}

	err := d.Send(ctx, b.String())
	if err == nil {
		t.Fatal("Send() expected error when the webhook rejects a chunk")
	}
	if !strings.Contains(err.Error(), "chunk 1 of") {
		t.Errorf("Send() error = %v, want first-chunk failure", err)
	}
}

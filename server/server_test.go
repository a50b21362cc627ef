package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"funpay-notifier/scraper"
)

type fakePoller struct {
	err   error
	calls int
}

func (p *fakePoller) Run(context.Context) error {
	p.calls++
	return p.err
}

func newTestServer(err error) (*Server, *fakePoller) {
	poller := &fakePoller{err: err}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(poller, "https://funpay.com/en/lots/687/", logger), poller
}

func TestHandleRoot(t *testing.T) {
	s, _ := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.handleRoot(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "funpay.com/en/lots/687") {
		t.Errorf("body = %q, want watched URL", rec.Body.String())
	}
}

func TestHandleRootNotFound(t *testing.T) {
	s, _ := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.handleRoot(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandlePollMethodGuard(t *testing.T) {
	s, poller := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.handlePoll(rec, httptest.NewRequest(http.MethodGet, "/pollz", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if poller.calls != 0 {
		t.Error("poller invoked on rejected method")
	}
}

func TestHandlePollSuccess(t *testing.T) {
	s, poller := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.handlePoll(rec, httptest.NewRequest(http.MethodPost, "/pollz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if poller.calls != 1 {
		t.Errorf("poller calls = %d, want 1", poller.calls)
	}
	if !strings.Contains(rec.Body.String(), "completed") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandlePollFailureStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "internal failure",
			err:  errors.New("snapshot write failed"),
			want: http.StatusInternalServerError,
		},
		{
			name: "empty listing page",
			err:  fmt.Errorf("fetch listing page: %w", scraper.ErrNoOffers),
			want: http.StatusBadGateway,
		},
		{
			name: "bot detection",
			err:  fmt.Errorf("fetch listing page: %w", &scraper.HTTP403Error{URL: "https://funpay.com/en/lots/687/"}),
			want: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(tt.err)

			rec := httptest.NewRecorder()
			s.handlePoll(rec, httptest.NewRequest(http.MethodPost, "/pollz", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

package poll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"funpay-notifier/pkg/offer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f(v float64) *float64 { return &v }

type fakeScraper struct {
	offers map[string]offer.Offer
	err    error
}

func (s *fakeScraper) Fetch(context.Context) (map[string]offer.Offer, error) {
	return s.offers, s.err
}

type fakeStore struct {
	snapshot offer.Snapshot
	loadErr  error
	saveErr  error
	saved    []offer.Snapshot
	events   *[]string
}

func (s *fakeStore) Load(context.Context) (offer.Snapshot, error) {
	return s.snapshot, s.loadErr
}

func (s *fakeStore) Save(_ context.Context, snap offer.Snapshot) error {
	if s.events != nil {
		*s.events = append(*s.events, "save")
	}
	s.saved = append(s.saved, snap)
	return s.saveErr
}

type fakeReconciler struct {
	changes offer.Changes
	next    offer.Snapshot
}

func (r *fakeReconciler) Reconcile(map[string]offer.Offer, offer.Snapshot, time.Time) (offer.Changes, offer.Snapshot) {
	return r.changes, r.next
}

type fakeDispatcher struct {
	err    error
	sent   []string
	events *[]string
}

func (d *fakeDispatcher) Send(_ context.Context, text string) error {
	if d.events != nil {
		*d.events = append(*d.events, "send")
	}
	d.sent = append(d.sent, text)
	return d.err
}

func staticRender(text string) Renderer {
	return func(*offer.Changes, time.Time) string { return text }
}

func TestRunFetchErrorAbortsBeforeState(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	m := New(
		&fakeScraper{err: errors.New("blocked")},
		store,
		&fakeReconciler{},
		dispatcher,
		staticRender("should not matter"),
		testLogger(),
	)

	if err := m.Run(context.Background()); err == nil {
		t.Fatal("Run() expected error on fetch failure")
	}
	if len(store.saved) != 0 {
		t.Error("snapshot saved despite failed fetch")
	}
	if len(dispatcher.sent) != 0 {
		t.Error("notification sent despite failed fetch")
	}
}

func TestRunSavesBeforeDispatch(t *testing.T) {
	var events []string
	next := offer.Snapshot{"100": {ID: "100", Price: f(42)}}
	store := &fakeStore{events: &events}
	dispatcher := &fakeDispatcher{events: &events}
	m := New(
		&fakeScraper{offers: map[string]offer.Offer{"100": {ID: "100", Price: f(42)}}},
		store,
		&fakeReconciler{changes: offer.Changes{New: []offer.Offer{{ID: "100"}}}, next: next},
		dispatcher,
		staticRender("update"),
		testLogger(),
	)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(events) != 2 || events[0] != "save" || events[1] != "send" {
		t.Errorf("event order = %v, want [save send]", events)
	}
	if len(store.saved) != 1 || store.saved[0]["100"] == nil {
		t.Errorf("saved snapshot = %v", store.saved)
	}
}

func TestRunDeliveryFailureKeepsSnapshot(t *testing.T) {
	store := &fakeStore{}
	m := New(
		&fakeScraper{offers: map[string]offer.Offer{"100": {ID: "100"}}},
		store,
		&fakeReconciler{changes: offer.Changes{New: []offer.Offer{{ID: "100"}}}, next: offer.Snapshot{"100": {ID: "100"}}},
		&fakeDispatcher{err: errors.New("all backends down")},
		staticRender("update"),
		testLogger(),
	)

	err := m.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected delivery error to surface")
	}
	// The snapshot write is authoritative and is not rolled back.
	if len(store.saved) != 1 {
		t.Errorf("snapshot saves = %d, want 1", len(store.saved))
	}
}

func TestRunSaveFailureDoesNotAbort(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	m := New(
		&fakeScraper{offers: map[string]offer.Offer{"100": {ID: "100"}}},
		&fakeStore{saveErr: errors.New("bucket unavailable")},
		&fakeReconciler{changes: offer.Changes{New: []offer.Offer{{ID: "100"}}}, next: offer.Snapshot{}},
		dispatcher,
		staticRender("update"),
		testLogger(),
	)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, save failure must not abort the run", err)
	}
	if len(dispatcher.sent) != 1 {
		t.Errorf("dispatch calls = %d, want 1", len(dispatcher.sent))
	}
}

func TestRunEmptyDocumentSkipsDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	m := New(
		&fakeScraper{offers: map[string]offer.Offer{"100": {ID: "100"}}},
		&fakeStore{},
		&fakeReconciler{next: offer.Snapshot{}},
		dispatcher,
		staticRender(""),
		testLogger(),
	)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(dispatcher.sent) != 0 {
		t.Error("dispatcher invoked for an empty document")
	}
}

func TestRunLoadFailureStartsEmpty(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("object decode failed")}
	dispatcher := &fakeDispatcher{}
	m := New(
		&fakeScraper{offers: map[string]offer.Offer{"100": {ID: "100"}}},
		store,
		&fakeReconciler{changes: offer.Changes{New: []offer.Offer{{ID: "100"}}}, next: offer.Snapshot{"100": {ID: "100"}}},
		dispatcher,
		staticRender("update"),
		testLogger(),
	)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, load failure must not abort the run", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("snapshot saves = %d, want 1", len(store.saved))
	}
}

package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
)

func next(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

// drain collects what arrived within a short window.
func drain(ch chan []byte) []string {
	var out []string
	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-deadline:
			return out
		}
	}
}

func count(frames []string, eventType string) int {
	n := 0
	for _, f := range frames {
		if strings.HasPrefix(f, "event: "+eventType+"\n") {
			n++
		}
	}
	return n
}

func dirtyReport() *report.Report {
	return &report.Report{
		App:              "/work/app",
		HistoryAvailable: true,
		Findings:         []models.Finding{{Path: "app/a.py"}, {Path: "app/b.py"}},
		Summary:          report.Summary{Findings: 2, Scaffold: 1},
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishReport(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishReport(dirtyReport())

	s := next(t, ch)
	for _, want := range []string{"event: report.updated\n", `"exit_code":1`, `"findings":2`, `"history_available":true`, `"app":"/work/app"`} {
		if !strings.Contains(s, want) {
			t.Errorf("frame lacks %s: %q", want, s)
		}
	}
}

func TestPublishFailure(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishFailure(apperr.Manifestf("copier.yml", "_exclude", "rule has no pattern"))

	s := next(t, ch)
	if !strings.HasPrefix(s, "event: analysis.failed\n") || !strings.Contains(s, `"exit_code":2`) ||
		!strings.Contains(s, "rule has no pattern") {
		t.Errorf("frame = %q", s)
	}
}

func TestLateSubscriberGetsLatestOutcome(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	b.PublishFailure(errors.New("boom"))
	b.PublishReport(dirtyReport())
	b.Publish(Event{Type: "custom", Data: map[string]string{}})
	b.PublishFileEvent("updated", "app/a.py")
	time.Sleep(50 * time.Millisecond)

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	frames := drain(ch)
	if len(frames) != 1 || count(frames, TypeReportUpdated) != 1 {
		t.Errorf("a new client should only see the latest outcome, got %q", frames)
	}
}

func TestPendingThrottleRearmedByOutcome(t *testing.T) {
	b := NewBroker(WithPendingThrottle(time.Hour))
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// The first change announces a pending analysis; the second is throttled.
	b.PublishFileEvent("updated", "app/a.py")
	b.PublishFileEvent("deleted", "app/b.py")
	frames := drain(ch)
	if got := count(frames, TypeFilePrefix+"updated") + count(frames, TypeFilePrefix+"deleted"); got != 2 {
		t.Errorf("file events = %d, want 2: %q", got, frames)
	}
	if got := count(frames, TypeAnalysisPending); got != 1 {
		t.Errorf("pending events = %d, want 1", got)
	}
	if !strings.Contains(frames[0], `"path":"app/a.py"`) {
		t.Errorf("file frame = %q", frames[0])
	}

	// Once the analysis finishes, the next change is announced again.
	b.PublishReport(dirtyReport())
	b.PublishFileEvent("created", "app/c.py")
	frames = drain(ch)
	if count(frames, TypeReportUpdated) != 1 || count(frames, TypeAnalysisPending) != 1 {
		t.Errorf("frames after report = %q", frames)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(WithHeartbeat(20 * time.Millisecond))
	defer b.Close()
	b.PublishReport(dirtyReport())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give the handler time to subscribe and emit a heartbeat.
	time.Sleep(80 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: report.updated\n") {
		t.Errorf("stream should open with the latest report: %q", body)
	}
	if !strings.Contains(body, ": keep-alive\n\n") {
		t.Errorf("no heartbeat in %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the client buffer (capacity 64); further publishes must not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.PublishReport(dirtyReport())
	b.PublishFailure(errors.New("late"))
	b.PublishFileEvent("updated", "x.py")
	b.Close()
}

// Package sse streams report changes to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
)

// Event types emitted by the broker.
const (
	TypeReportUpdated   = "report.updated"
	TypeAnalysisFailed  = "analysis.failed"
	TypeAnalysisPending = "analysis.pending"
	TypeFilePrefix      = "file."
)

// Defaults for a Broker.
const (
	DefaultPendingThrottle = 2 * time.Second
	DefaultHeartbeat       = 15 * time.Second
)

// Event is one SSE frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ReportNotice is the payload of report.updated.
type ReportNotice struct {
	App              string         `json:"app"`
	ExitCode         int            `json:"exit_code"`
	HistoryAvailable bool           `json:"history_available"`
	Summary          report.Summary `json:"summary"`
}

// FailureNotice is the payload of analysis.failed.
type FailureNotice struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
}

// FileNotice is the payload of file.created, file.updated and file.deleted.
type FileNotice struct {
	Path string `json:"path"`
}

type inbound struct {
	event Event
	// state marks the outcome of an analysis. The latest one is replayed to
	// clients that subscribe later.
	state bool
	// change marks a working-tree change, which may also announce a pending
	// analysis.
	change bool
}

// Broker fans analysis outcomes and tree changes out to subscribers.
//
// One goroutine owns the clients, the replayed state frame and the pending
// throttle. Everything else talks to it over channels.
type Broker struct {
	pendingMin time.Duration
	heartbeat  time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	inboundCh     chan inbound
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithPendingThrottle sets the minimum interval between two
// analysis.pending notices.
func WithPendingThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.pendingMin = d
		}
	}
}

// WithHeartbeat sets how often idle streams receive a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// NewBroker starts a broker. Close releases it.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		pendingMin:    DefaultPendingThrottle,
		heartbeat:     DefaultHeartbeat,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		inboundCh:     make(chan inbound, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func frame(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		state       []byte
		lastPending time.Time
	)

	send := func(raw []byte) {
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}
	broadcast := func(event Event) []byte {
		raw, err := frame(event)
		if err != nil {
			return nil
		}
		send(raw)
		return raw
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			if state != nil {
				ch <- state
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case in := <-b.inboundCh:
			raw := broadcast(in.event)
			switch {
			case in.state:
				if raw != nil {
					state = raw
				}
				// A finished analysis re-arms the pending notice.
				lastPending = time.Time{}
			case in.change:
				if now := time.Now(); now.Sub(lastPending) >= b.pendingMin {
					lastPending = now
					broadcast(Event{Type: TypeAnalysisPending, Data: struct{}{}})
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func (b *Broker) submit(in inbound) {
	if b.closed.Load() {
		return
	}
	select {
	case b.inboundCh <- in:
	case <-b.stopped:
	}
}

// Close stops the loop and closes every client channel. It is idempotent.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. The latest analysis outcome, if any, is the
// first frame on the returned channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an arbitrary event to all clients.
func (b *Broker) Publish(event Event) {
	b.submit(inbound{event: event})
}

// PublishReport announces a finished analysis.
func (b *Broker) PublishReport(rep *report.Report) {
	b.submit(inbound{state: true, event: Event{Type: TypeReportUpdated, Data: ReportNotice{
		App:              rep.App,
		ExitCode:         report.ExitCode(rep),
		HistoryAvailable: rep.HistoryAvailable,
		Summary:          rep.Summary,
	}}})
}

// PublishFailure announces an analysis that aborted.
func (b *Broker) PublishFailure(err error) {
	b.submit(inbound{state: true, event: Event{Type: TypeAnalysisFailed, Data: FailureNotice{
		Error:    err.Error(),
		ExitCode: apperr.ExitCode(err),
	}}})
}

// PublishFileEvent announces a tree change and, throttled, that a new
// analysis is pending. kind is created, updated or deleted.
func (b *Broker) PublishFileEvent(kind, path string) {
	b.submit(inbound{change: true, event: Event{Type: TypeFilePrefix + kind, Data: FileNotice{Path: path}}})
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

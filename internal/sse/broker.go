// Package sse streams pipeline runs to local clients as Server-Sent Events.
//
// Every frame carries a monotonically increasing id. A reconnecting client
// that sends Last-Event-ID receives the frames it missed, as long as they
// are still in the broker's history.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/danisheto/anc/internal/pipeline"
)

// Event types.
const (
	EventRunFinished       = "run.finished"
	EventDeckChanged       = "deck.changed"
	EventCollectionChanged = "collection.changed"
)

const (
	clientBuffer     = 64
	defaultHistory   = 32
	defaultThrottle  = 2 * time.Second
	defaultKeepAlive = 30 * time.Second
)

// Event is one message for connected clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type frame struct {
	id  uint64
	raw []byte
}

type subscription struct {
	ch    chan []byte
	after uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithThrottle sets the minimum gap between two collection.changed events.
func WithThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.throttle = d
		}
	}
}

// WithHistory sets how many frames are kept for Last-Event-ID replay.
// Zero disables replay.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.historySize = n
		}
	}
}

// WithKeepAlive sets the interval of comment frames sent to idle clients.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.keepAlive = d
		}
	}
}

// Broker fans events out to SSE clients.
//
// A single loop goroutine owns the client set, the history ring and the
// collection throttle; the exported methods talk to it over channels.
type Broker struct {
	throttle    time.Duration
	historySize int
	keepAlive   time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	reportCh      chan pipeline.Report
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ pipeline.Notifier = (*Broker)(nil)

// NewBroker starts a broker loop. Close stops it.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		throttle:      defaultThrottle,
		historySize:   defaultHistory,
		keepAlive:     defaultKeepAlive,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		reportCh:      make(chan pipeline.Report, 64),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	var (
		clients     = make(map[chan []byte]struct{})
		history     []frame
		lastID      uint64
		lastChanged time.Time
	)

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Client is not keeping up; it can catch up with Last-Event-ID.
		}
	}

	broadcast := func(ev Event) {
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return
		}
		lastID++
		f := frame{
			id:  lastID,
			raw: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", lastID, ev.Type, payload)),
		}
		if b.historySize > 0 {
			if len(history) == b.historySize {
				history = history[1:]
			}
			history = append(history, f)
		}
		for ch := range clients {
			send(ch, f.raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			if sub.after > 0 {
				for _, f := range history {
					if f.id > sub.after {
						send(sub.ch, f.raw)
					}
				}
			}
			clients[sub.ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			broadcast(ev)

		case r := <-b.reportCh:
			broadcast(Event{Type: EventRunFinished, Data: r})

			changed := false
			for _, d := range r.Decks {
				if d.Changed() {
					changed = true
					broadcast(Event{Type: EventDeckChanged, Data: d})
				}
			}
			if !changed {
				continue
			}
			if now := time.Now(); now.Sub(lastChanged) >= b.throttle {
				lastChanged = now
				broadcast(Event{Type: EventCollectionChanged, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. Frames with an id greater than after that
// are still in the history are queued first; after == 0 skips replay.
func (b *Broker) Subscribe(after uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, after: after}:
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
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}

// Notify turns a finished run into run.finished, one deck.changed per deck
// that saw a write and a throttled collection.changed.
func (b *Broker) Notify(r pipeline.Report) {
	if b.closed.Load() {
		return
	}
	select {
	case b.reportCh <- r:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(after)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

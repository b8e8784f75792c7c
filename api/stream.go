package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const streamHeartbeat = 25 * time.Second

var errStreamUnsupported = errors.New("streaming unsupported")

// updateBroker fans table revalidation signals out to SSE subscribers.
// Subscribers to table 0 receive every table's signals.
type updateBroker struct {
	mu     sync.Mutex
	subs   map[int]map[chan int]struct{}
	closed bool
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[int]map[chan int]struct{})}
}

// subscribe returns a channel receiving revalidated table ids. It returns nil
// once the broker is closed.
func (b *updateBroker) subscribe(tableID int) chan int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	ch := make(chan int, 1)
	if b.subs[tableID] == nil {
		b.subs[tableID] = make(map[chan int]struct{})
	}
	b.subs[tableID][ch] = struct{}{}
	return ch
}

func (b *updateBroker) unsubscribe(tableID int, ch chan int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[tableID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(b.subs, tableID)
		}
	}
}

// notify signals subscribers of tableID and of all tables. Slow subscribers
// keep their pending signal and miss nothing but duplicates.
func (b *updateBroker) notify(tableID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send := func(set map[chan int]struct{}) {
		for ch := range set {
			select {
			case ch <- tableID:
			default:
			}
		}
	}
	send(b.subs[tableID])
	if tableID != 0 {
		send(b.subs[0])
	}
}

func (b *updateBroker) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

func (b *updateBroker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
}

// NotifyTable signals stream subscribers without touching the cache. It is
// the entry point for revalidations relayed from other instances.
func (s *Server) NotifyTable(tableID int) {
	s.broker.notify(tableID)
}

// stream holds an SSE connection open and emits a revalidate event each time
// the table changes. tableId is optional; without it every table is watched.
func (s *Server) stream(c echo.Context) error {
	tableID := 0
	if raw := c.QueryParam("tableId"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			return fail(c, s.log, badRequest("invalid tableId"))
		}
		tableID = id
	}

	w := c.Response()
	flusher, ok := w.Writer.(http.Flusher)
	if !ok {
		return fail(c, s.log, errStreamUnsupported)
	}
	ch := s.broker.subscribe(tableID)
	if ch == nil {
		return c.JSON(http.StatusServiceUnavailable, envelope{"success": false, "error": "shutting down"})
	}
	defer s.broker.unsubscribe(tableID, ch)

	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "ready", tableID); err != nil {
		return nil
	}
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, open := <-ch:
			if !open {
				return nil
			}
			if err := writeEvent(w, "revalidate", id); err != nil {
				s.log.WithError(err).Debug("stream write failed")
				return nil
			}
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, tableID int) error {
	data, err := sonic.Marshal(map[string]any{"tableId": tableID, "ts": nextTimestamp()})
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+32)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}

// Package publisher pushes published snapshots to an external metrics
// consumer over a persistent, best-effort WebSocket channel. Publish never
// blocks the analysis loop and delivery failures stay inside this package.
package publisher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

const writeTimeout = 10 * time.Second

// WebSocketPublisher implements core.SnapshotPublisher over a WebSocket
// with automatic reconnect.
type WebSocketPublisher struct {
	url     string
	queue   chan *core.Snapshot
	dialer  *websocket.Dialer
	log     *logging.Logger
	dropped int64
}

// NewWebSocketPublisher creates a publisher for the given ws:// or wss://
// URL. bufferSize bounds the outbound queue; snapshots beyond it are
// dropped, newest last.
func NewWebSocketPublisher(url string, bufferSize int, log *logging.Logger) *WebSocketPublisher {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &WebSocketPublisher{
		url:    url,
		queue:  make(chan *core.Snapshot, bufferSize),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}
}

// Publish enqueues a snapshot without blocking. When the queue is full
// (consumer down or slow) the snapshot is dropped with a warning; the
// query interface still serves it, only the push is lost.
func (p *WebSocketPublisher) Publish(snapshot *core.Snapshot) {
	select {
	case p.queue <- snapshot:
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.log.Warn("metrics queue full, snapshot push dropped",
			"version", snapshot.Version,
			"dropped_total", atomic.LoadInt64(&p.dropped))
	}
}

// Dropped returns how many snapshots were dropped at enqueue time.
func (p *WebSocketPublisher) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

// Run maintains the connection until ctx is done: dial with exponential
// backoff, drain the queue over the live connection, reconnect on any
// write failure.
func (p *WebSocketPublisher) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // reconnect forever

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, resp, err := p.dialer.DialContext(ctx, p.url, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			wait := bo.NextBackOff()
			p.log.Warn("metrics connection failed",
				"url", p.log.Sanitize(p.url),
				"retry_in", wait.Round(time.Millisecond).String(),
				"error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		p.log.Info("metrics connection established", "url", p.log.Sanitize(p.url))

		err = p.pump(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("metrics connection lost, reconnecting", "error", err)
	}
}

func (p *WebSocketPublisher) pump(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case snapshot := <-p.queue:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snapshot); err != nil {
				// Push it back for the next connection if there is room.
				select {
				case p.queue <- snapshot:
				default:
					atomic.AddInt64(&p.dropped, 1)
				}
				return err
			}
		}
	}
}

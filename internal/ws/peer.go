package ws

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	sendQueueLen = 32
	writeTimeout = 10 * time.Second
)

// Peer wraps one websocket connection behind the session.PeerConn
// contract: Send never blocks the caller, the write pump serializes all
// outbound frames.
type Peer struct {
	conn *websocket.Conn

	send      chan any
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn) *Peer {
	return &Peer{
		conn: conn,
		send: make(chan any, sendQueueLen),
		done: make(chan struct{}),
	}
}

// Send queues an event for delivery. It reports false when the queue is
// full, which the session treats as a dead peer.
func (p *Peer) Send(event any) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- event:
		return true
	default:
		return false
	}
}

// Kick tears the connection down with a policy-violation close frame.
func (p *Peer) Kick(reason string) {
	p.shutdown(websocket.StatusPolicyViolation, reason)
}

// shutdown must not block; Kick is called while a session lock is
// held and the close handshake can wait on the network.
func (p *Peer) shutdown(code websocket.StatusCode, reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		go p.conn.Close(code, reason)
	})
}

// writePump drains the send queue onto the wire. It owns all writes; no
// other goroutine may touch the connection for output.
func (p *Peer) writePump(ctx context.Context) {
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			p.shutdown(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, p.conn, ev)
			cancel()
			if err != nil {
				p.shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

package amrpc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/qtcdxxyuc/amrpc/codec"
	"github.com/qtcdxxyuc/amrpc/transport"
)

// pollInterval is how often an idle writer loop rechecks its queue and
// its subscriber's liveness. It trades a little latency for not needing
// a wakeup signal per subscriber; see SPEC_FULL.md for why this stayed a
// poll instead of becoming condition-variable driven.
const pollInterval = 11 * time.Millisecond

// subscriber holds one Publish subscriber's queue and connection. It is
// evicted (its writer loop exits and its connection closes) once more
// than queueSize values accumulate before the writer can drain them,
// without ever blocking the publisher that produced those values.
type subscriber struct {
	typ     codec.MessageType
	peer    string
	session transport.Session

	mu    sync.Mutex
	queue []*codec.Data

	alive atomic.Bool
}

// distributor fans published values out to every current subscriber of
// one Publish topic.
type distributor struct {
	info methodInfo
	// queueSize is the caller's requested bound plus one: a subscriber
	// is evicted only once strictly more than the caller's requested
	// number of messages are pending, so the internal high-watermark
	// check (len(queue) >= queueSize) fires one message later than the
	// caller-facing number would suggest.
	queueSize int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newDistributor(info methodInfo, queueSize uint) *distributor {
	return &distributor{
		info:      info,
		queueSize: int(queueSize) + 1,
		subs:      make(map[*subscriber]struct{}),
	}
}

func (d *distributor) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// addClient registers a new subscriber and starts its writer loop on a
// dedicated goroutine. The loop runs until the subscriber is evicted
// for being too slow or the peer disconnects.
//
// The loop cannot run as an executor task: it blocks for the life of
// the subscription, and the executor behind a Server serializes table
// mutations and RPC dispatch (AddRPC, Publish, Del, GetPullerSize) onto
// a single worker goroutine. One subscriber's writer loop occupying
// that worker forever would wedge every other operation routed through
// the same executor.
func (d *distributor) addClient(typ codec.MessageType, peer string, session transport.Session) {
	sub := &subscriber{typ: typ, peer: peer, session: session}
	sub.alive.Store(true)

	d.mu.Lock()
	d.subs[sub] = struct{}{}
	d.mu.Unlock()

	// A dedicated goroutine watches for the peer closing or sending any
	// frame on what should be a write-only stream; either is treated as
	// "the peer is gone" and stops the writer loop without needing an
	// active read loop of its own.
	closed := make(chan struct{})
	go func() {
		_, _ = session.Read()
		close(closed)
	}()

	go d.writerLoop(sub, closed)
}

func (d *distributor) writerLoop(sub *subscriber, closed <-chan struct{}) {
loop:
	for sub.alive.Load() {
		sub.mu.Lock()
		var data *codec.Data
		if len(sub.queue) > 0 {
			data = sub.queue[0]
			sub.queue = sub.queue[1:]
		}
		sub.mu.Unlock()

		if data != nil {
			b, err := data.View(sub.typ)
			if err != nil || sub.session.Write(b) != nil {
				break loop
			}
		}

		select {
		case <-closed:
			break loop
		default:
		}

		time.Sleep(pollInterval)
	}

	d.removeClient(sub)
	_ = sub.session.Close()
}

func (d *distributor) removeClient(sub *subscriber) {
	d.mu.Lock()
	delete(d.subs, sub)
	d.mu.Unlock()
}

// update fans payload out to every current subscriber, converting it
// lazily to whichever wire form each subscriber negotiated. It never
// blocks on a slow subscriber: appending to a full queue instead marks
// that subscriber dead so its writer loop evicts it on its next pass.
func (d *distributor) update(typ codec.MessageType, payload []byte, debug bool) error {
	d.mu.Lock()
	if len(d.subs) == 0 {
		d.mu.Unlock()
		return nil
	}
	subs := make([]*subscriber, 0, len(d.subs))
	for sub := range d.subs {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	data := codec.New(typ, payload)
	if debug {
		if _, err := data.View(d.info.typ); err != nil {
			return wrapException(err, "amrpc: publish self-check failed for %q", d.info.method)
		}
	}

	for _, sub := range subs {
		sub.mu.Lock()
		sub.queue = append(sub.queue, data)
		overflow := len(sub.queue) >= d.queueSize
		sub.mu.Unlock()
		if overflow {
			sub.alive.Store(false)
		}
	}
	return nil
}

package amrpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qtcdxxyuc/amrpc/codec"
)

// fakeSession is an in-memory transport.Session used to drive the
// Distributor's writer loop without a real network connection.
type fakeSession struct {
	mu       sync.Mutex
	written  [][]byte
	closed   bool
	readErr  chan struct{} // closed once Read should return, simulating peer activity/close
	closedCh chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{readErr: make(chan struct{}), closedCh: make(chan struct{})}
}

func (f *fakeSession) Read() ([]byte, error) {
	<-f.readErr
	return nil, errors.New("peer closed")
}

func (f *fakeSession) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("session closed")
	}
	cp := append([]byte(nil), b...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

func (f *fakeSession) Subprotocol() string { return "" }

func (f *fakeSession) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestDistributorDeliversToSubscriber(t *testing.T) {
	d := newDistributor(methodInfo{typ: codec.TEXT, method: "/topic"}, 10)
	sess := newFakeSession()
	d.addClient(codec.TEXT, "peer1", sess)

	waitFor(t, "subscriber registration", func() bool { return d.size() == 1 })

	if err := d.update(codec.TEXT, []byte("hello"), false); err != nil {
		t.Fatalf("update: %v", err)
	}

	waitFor(t, "message delivery", func() bool { return len(sess.writes()) == 1 })
	if got := string(sess.writes()[0]); got != "hello" {
		t.Errorf("delivered %q, want %q", got, "hello")
	}
}

func TestDistributorEvictsSlowConsumer(t *testing.T) {
	// queueSize of 1 means a subscriber is evicted after strictly more
	// than 1 message is pending, i.e. once a 2nd message queues up
	// behind the first (which the writer hasn't drained yet because we
	// never let its goroutine run ahead of us here).
	d := newDistributor(methodInfo{typ: codec.BIN, method: "/topic"}, 1)
	sess := newFakeSession()
	d.addClient(codec.BIN, "peer1", sess)
	waitFor(t, "subscriber registration", func() bool { return d.size() == 1 })

	if err := d.update(codec.BIN, []byte("m1"), false); err != nil {
		t.Fatalf("update 1: %v", err)
	}
	if err := d.update(codec.BIN, []byte("m2"), false); err != nil {
		t.Fatalf("update 2: %v", err)
	}
	if err := d.update(codec.BIN, []byte("m3"), false); err != nil {
		t.Fatalf("update 3: %v", err)
	}

	waitFor(t, "eviction", func() bool { return d.size() == 0 })
	waitFor(t, "session close", func() bool { sess.mu.Lock(); defer sess.mu.Unlock(); return sess.closed })
}

func TestDistributorUpdateIsNoopWithoutSubscribers(t *testing.T) {
	d := newDistributor(methodInfo{typ: codec.TEXT, method: "/topic"}, 10)
	if err := d.update(codec.TEXT, []byte("nobody's listening"), false); err != nil {
		t.Fatalf("update with no subscribers: %v", err)
	}
}

func TestDistributorRemovesSubscriberOnPeerClose(t *testing.T) {
	d := newDistributor(methodInfo{typ: codec.TEXT, method: "/topic"}, 10)
	sess := newFakeSession()
	d.addClient(codec.TEXT, "peer1", sess)
	waitFor(t, "subscriber registration", func() bool { return d.size() == 1 })

	close(sess.readErr) // simulate the peer disconnecting

	waitFor(t, "subscriber removal", func() bool { return d.size() == 0 })
}

// TestServerPublishDoesNotBlockOnLiveSubscriber exercises Publish through
// the real Server, whose PublishString/GetPullerSize/Del/RPC dispatch all
// route through one single-worker executor, while the distributor's
// per-subscriber writer loop runs on its own goroutine. Unlike the
// distributor-only tests above,
// which call update/size directly and never touch that executor, this
// reproduces the path a real client takes: if a subscriber's writer loop
// ever ran as a task on that executor instead of its own goroutine, the
// PublishString and GetPullerSize calls below would hang forever once a
// subscriber attached.
func TestServerPublishDoesNotBlockOnLiveSubscriber(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.AddPublishString("/live", 10); err != nil {
		t.Fatalf("AddPublishString: %v", err)
	}
	startServer(t, uri, srv)

	received := make(chan string, 1)
	puller, err := PullString(context.Background(), uri, "/live", func(value string, err error) bool {
		if err == nil {
			received <- value
		}
		return false
	})
	if err != nil {
		t.Fatalf("PullString: %v", err)
	}
	defer puller.Close()

	waitFor(t, "subscriber to attach", func() bool {
		n, err := srv.GetPullerSize("/live")
		return err == nil && n == 1
	})

	publishDone := make(chan error, 1)
	go func() { publishDone <- srv.PublishString("/live", "still alive") }()

	select {
	case err := <-publishDone:
		if err != nil {
			t.Fatalf("PublishString: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PublishString did not return: a subscriber's writer loop is blocking the server executor")
	}

	select {
	case v := <-received:
		if v != "still alive" {
			t.Errorf("received %q, want %q", v, "still alive")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the published value to reach the subscriber")
	}

	if _, err := srv.GetPullerSize("/live"); err != nil {
		t.Fatalf("GetPullerSize after publish: %v", err)
	}
}

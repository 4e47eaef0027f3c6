package amrpc

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishPullStringRoundTrip(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.AddPublishString("/ticks", 10); err != nil {
		t.Fatalf("AddPublishString: %v", err)
	}
	startServer(t, uri, srv)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	puller, err := PullString(context.Background(), uri, "/ticks", func(value string, err error) bool {
		if err != nil {
			close(done)
			return false
		}
		mu.Lock()
		got = append(got, value)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
			return false
		}
		return true
	})
	if err != nil {
		t.Fatalf("PullString: %v", err)
	}
	defer puller.Close()

	waitFor(t, "subscriber to attach", func() bool {
		n, err := srv.GetPullerSize("/ticks")
		return err == nil && n == 1
	})

	for i, msg := range []string{"one", "two", "three"} {
		if err := srv.PublishString("/ticks", msg); err != nil {
			t.Fatalf("PublishString %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all three messages")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Errorf("received %v, want [one two three]", got)
	}
}

type tickMsg struct {
	Seq int64 `msgpack:"seq"`
}

func TestPublishPullGenericMsgpackRoundTrip(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := AddPublish[tickMsg](srv, "/seq", 10); err != nil {
		t.Fatalf("AddPublish: %v", err)
	}
	startServer(t, uri, srv)

	received := make(chan tickMsg, 1)
	puller, err := Pull[tickMsg](context.Background(), uri, "/seq", func(value tickMsg, err error) bool {
		if err != nil {
			return false
		}
		received <- value
		return false
	})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	defer puller.Close()

	waitFor(t, "subscriber to attach", func() bool {
		n, err := srv.GetPullerSize("/seq")
		return err == nil && n == 1
	})

	if err := Publish(srv, "/seq", tickMsg{Seq: 7}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case v := <-received:
		if v.Seq != 7 {
			t.Errorf("received seq = %d, want 7", v.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published value")
	}
}

func TestPublishToUnregisteredTopicFails(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	startServer(t, uri, srv)

	if err := srv.PublishString("/nope", "x"); err == nil {
		t.Error("expected publishing to an unregistered topic to fail")
	}
}

package amrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

var ipcCounter int64

// testIPCURI returns a unique ipc:// endpoint per test so parallel test
// runs never collide on the same unix socket path.
func testIPCURI(t *testing.T) string {
	t.Helper()
	n := atomic.AddInt64(&ipcCounter, 1)
	return fmt.Sprintf("ipc://amrpc-test-%s-%d", uuid.NewString(), n)
}

func startServer(t *testing.T, uri string, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := s.Serve(ctx); err != nil {
			t.Logf("server %s exited: %v", uri, err)
		}
	}()
	time.Sleep(20 * time.Millisecond)
}

func TestRPCStringRoundTrip(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.AddRPCString("/echo", func(ctx context.Context, arg string) (string, error) {
		return strings.ToUpper(arg), nil
	}); err != nil {
		t.Fatalf("AddRPCString: %v", err)
	}
	startServer(t, uri, srv)

	fn := NewStringFunction(uri, "/echo")
	if err := fn.Enabled(context.Background()); err != nil {
		t.Fatalf("Enabled: %v", err)
	}
	got, err := fn.Call(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "HELLO" {
		t.Errorf("Call = %q, want %q", got, "HELLO")
	}
}

func TestRPCBytesRoundTrip(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.AddRPCBytes("/reverse", func(ctx context.Context, arg []byte) ([]byte, error) {
		out := make([]byte, len(arg))
		for i, b := range arg {
			out[len(arg)-1-i] = b
		}
		return out, nil
	}); err != nil {
		t.Fatalf("AddRPCBytes: %v", err)
	}
	startServer(t, uri, srv)

	fn := NewBytesFunction(uri, "/reverse")
	got, err := fn.Call(context.Background(), []byte("abcd"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(got) != "dcba" {
		t.Errorf("Call = %q, want %q", got, "dcba")
	}
}

type addArgs struct {
	A int64 `msgpack:"a"`
	B int64 `msgpack:"b"`
}

func TestRPCGenericMsgpackRoundTrip(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := AddRPC(srv, "/add", func(ctx context.Context, args addArgs) (int64, error) {
		return args.A + args.B, nil
	}); err != nil {
		t.Fatalf("AddRPC: %v", err)
	}
	startServer(t, uri, srv)

	fn := NewFunction[addArgs, int64](uri, "/add")
	got, err := fn.Call(context.Background(), addArgs{A: 2, B: 40})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 42 {
		t.Errorf("Call = %d, want 42", got)
	}
}

func TestRPCMethodNotFound(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	startServer(t, uri, srv)

	fn := NewStringFunction(uri, "/nope")
	if err := fn.Enabled(context.Background()); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("Enabled error = %v, want ErrMethodNotFound", err)
	}
	if _, err := fn.Call(context.Background(), "x"); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("Call error = %v, want ErrMethodNotFound", err)
	}
}

func TestRPCHandlerErrorBecomesServerError(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.AddRPCString("/boom", func(ctx context.Context, arg string) (string, error) {
		return "", errors.New("kaboom")
	}); err != nil {
		t.Fatalf("AddRPCString: %v", err)
	}
	startServer(t, uri, srv)

	fn := NewStringFunction(uri, "/boom")
	_, err = fn.Call(context.Background(), "x")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("error %v does not mention handler failure", err)
	}
}

func TestDuplicateRPCRegistrationRejected(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	noop := func(ctx context.Context, arg string) (string, error) { return arg, nil }
	if err := srv.AddRPCString("/dup", noop); err != nil {
		t.Fatalf("first AddRPCString: %v", err)
	}
	if err := srv.AddRPCString("/dup", noop); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestDelRemovesMethod(t *testing.T) {
	uri := testIPCURI(t)
	srv, err := NewServer(uri)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.AddRPCString("/temp", func(ctx context.Context, arg string) (string, error) {
		return arg, nil
	}); err != nil {
		t.Fatalf("AddRPCString: %v", err)
	}
	startServer(t, uri, srv)

	fn := NewStringFunction(uri, "/temp")
	if err := fn.Enabled(context.Background()); err != nil {
		t.Fatalf("Enabled before Del: %v", err)
	}

	if err := srv.Del("/temp"); err != nil {
		t.Fatalf("Del: %v", err)
	}

	if err := fn.Enabled(context.Background()); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("Enabled after Del = %v, want ErrMethodNotFound", err)
	}
}

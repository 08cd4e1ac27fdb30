package querier

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/pobradovic08/as-infer/internal/wire"
)

// fakeServer accepts one connection, decodes the request line, and writes
// back whatever response line the test supplies.
func fakeServer(t *testing.T, respond func(wire.Request) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			return
		}
		var req wire.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		line := respond(req)
		conn.Write([]byte(line + "\n"))
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestQuerier_SuccessfulPath(t *testing.T) {
	addr := fakeServer(t, func(req wire.Request) string {
		path := "100 200 300"
		resp := wire.Response{Type: "response", Tag: req.Tag, Src: req.Src, Dst: req.Dst, Path: &path}
		b, _ := json.Marshal(resp)
		return string(b)
	})

	q := New(addr, 2, 2*time.Second)
	defer q.Shutdown()

	done := make(chan Result, 1)
	q.Query(Request{Tag: "t1", Src: wire.ASEndpoint(100), Dst: wire.ASEndpoint(300)}, func(r Result) {
		done <- r
	})

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if !res.Found {
			t.Fatal("expected found=true")
		}
		want := []int{100, 200, 300}
		if len(res.Path) != len(want) {
			t.Fatalf("got path %v, want %v", res.Path, want)
		}
		for i := range want {
			if res.Path[i] != want[i] {
				t.Fatalf("got path %v, want %v", res.Path, want)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestQuerier_NullPathMeansNotFound(t *testing.T) {
	addr := fakeServer(t, func(req wire.Request) string {
		resp := wire.Response{Type: "response", Tag: req.Tag, Src: req.Src, Dst: req.Dst, Path: nil}
		b, _ := json.Marshal(resp)
		return string(b)
	})

	q := New(addr, 1, 2*time.Second)
	defer q.Shutdown()

	done := make(chan Result, 1)
	q.Query(Request{Tag: "t1", Src: wire.ASEndpoint(1), Dst: wire.ASEndpoint(2)}, func(r Result) { done <- r })

	res := <-done
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Found {
		t.Fatal("expected found=false for null path")
	}
}

func TestQuerier_ErrorResponseBecomesErr(t *testing.T) {
	addr := fakeServer(t, func(req wire.Request) string {
		b, _ := json.Marshal(wire.NewError("no handler for tag"))
		return string(b)
	})

	q := New(addr, 1, 2*time.Second)
	defer q.Shutdown()

	done := make(chan Result, 1)
	q.Query(Request{Tag: "missing", Src: wire.ASEndpoint(1), Dst: wire.ASEndpoint(2)}, func(r Result) { done <- r })

	res := <-done
	if res.Err == nil {
		t.Fatal("expected error result")
	}
}

func TestQuerier_DialFailureBecomesErr(t *testing.T) {
	q := New("127.0.0.1:1", 1, 500*time.Millisecond)
	defer q.Shutdown()

	done := make(chan Result, 1)
	q.Query(Request{Tag: "t", Src: wire.ASEndpoint(1), Dst: wire.ASEndpoint(2)}, func(r Result) { done <- r })

	select {
	case res := <-done:
		if res.Err == nil {
			t.Fatal("expected dial error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

package transports

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type echoPayload struct {
	Value string `json:"value"`
}

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req Request, push Pusher) (Reply, error) {
		switch req.Type {
		case "echo":
			var payload echoPayload
			if err := req.Decode(&payload); err != nil {
				return Reply{}, err
			}
			return Reply{
				Data: payload,
				Blob: req.Blob,
			}, nil
		case "fail":
			return Reply{}, errors.New("failed")
		case "panic":
			panic("boom")
		case "push":
			var key PushKey
			if err := req.Decode(&key); err != nil {
				return Reply{}, err
			}
			if err := push(ctx, key.SubjectID, key.StateID, "hello"); err != nil {
				return Reply{}, err
			}
			return Reply{}, nil
		}
		return Reply{}, errors.New("unknown request")
	})
}

func startPipe(t *testing.T) (*Client, func()) {
	hostEnd, sandboxEnd := Pipe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := Serve(context.Background(), sandboxEnd, echoHandler(), testLogger); err != nil {
			t.Error(err)
		}
	}()
	client := NewClient(hostEnd, testLogger)
	return client, func() {
		client.Close()
		wg.Wait()
	}
}

func TestCall(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, stop := startPipe(t)
	defer stop()
	ctx := t.Context()

	blob := []byte{1, 2, 3}
	resp, err := client.Call(ctx, "echo", echoPayload{Value: "foo"}, blob)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := Decode[echoPayload](resp)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Value != "foo" {
		t.Fatalf("got %v", payload)
	}
	// moved, not copied
	if &resp.Blob[0] != &blob[0] {
		t.Fatal("blob copied")
	}

	_, err = client.Call(ctx, "fail", nil, nil)
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("got %v", err)
	}
	if remoteErr.Message != "failed" {
		t.Fatalf("got %v", remoteErr.Message)
	}

	_, err = client.Call(ctx, "panic", nil, nil)
	if !errors.As(err, &remoteErr) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(remoteErr.Message, "boom") {
		t.Fatalf("got %v", remoteErr.Message)
	}
	if remoteErr.Trace == "" {
		t.Fatal("no trace")
	}

	if n := client.Pending(); n != 0 {
		t.Fatalf("got %v", n)
	}
}

func TestMonotonicIDs(t *testing.T) {
	hostEnd, sandboxEnd := Pipe()
	client := NewClient(hostEnd, testLogger)
	defer client.Close()

	var ids []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 3 {
			msg, err := sandboxEnd.Receive(context.Background())
			if err != nil {
				return
			}
			ids = append(ids, msg.ID)
			resp, _ := okResponse(msg.ID, Reply{})
			sandboxEnd.Send(context.Background(), resp)
		}
	}()
	for range 3 {
		if _, err := client.Call(t.Context(), "noop", nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	<-done
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("got %v", ids)
		}
	}
}

func TestCloseRejectsPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	hostEnd, sandboxEnd := Pipe()
	client := NewClient(hostEnd, testLogger)

	// a sandbox that never answers
	received := make(chan struct{}, 2)
	go func() {
		for {
			if _, err := sandboxEnd.Receive(context.Background()); err != nil {
				return
			}
			received <- struct{}{}
		}
	}()

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := client.Call(context.Background(), "echo", nil, nil)
			errs <- err
		}()
	}
	<-received
	<-received

	client.Close()
	for range 2 {
		err := <-errs
		if !errors.Is(err, ErrChannelClosed) {
			t.Fatalf("got %v", err)
		}
	}
	if n := client.Pending(); n != 0 {
		t.Fatalf("got %v", n)
	}

	// after close
	if _, err := client.Call(t.Context(), "echo", nil, nil); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("got %v", err)
	}
}

func TestPeerCloseRejectsPending(t *testing.T) {
	hostEnd, sandboxEnd := Pipe()
	client := NewClient(hostEnd, testLogger)
	defer client.Close()

	go func() {
		sandboxEnd.Receive(context.Background())
		sandboxEnd.Close()
	}()
	_, err := client.Call(t.Context(), "echo", nil, nil)
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("got %v", err)
	}
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("not done")
	}
}

func TestCallContextCanceled(t *testing.T) {
	hostEnd, sandboxEnd := Pipe()
	defer sandboxEnd.Close()
	client := NewClient(hostEnd, testLogger)
	defer client.Close()

	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*50)
	defer cancel()
	_, err := client.Call(ctx, "echo", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
	if n := client.Pending(); n != 0 {
		t.Fatalf("got %v", n)
	}
}

func TestPushDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, stop := startPipe(t)
	defer stop()
	ctx := t.Context()

	got := make(chan string, 10)
	detach := client.Subscribe("S", "T", func(data json.RawMessage) {
		var s string
		json.Unmarshal(data, &s)
		got <- "S/T:" + s
	})
	client.Subscribe("S", "U", func(data json.RawMessage) {
		got <- "S/U"
	})

	if _, err := client.Call(ctx, "push", PushKey{SubjectID: "S", StateID: "T"}, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if s != "S/T:hello" {
			t.Fatalf("got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("not delivered")
	}

	detach()
	if _, err := client.Call(ctx, "push", PushKey{SubjectID: "S", StateID: "T"}, nil); err != nil {
		t.Fatal(err)
	}
	// unrelated pair, flushes the push queue
	if _, err := client.Call(ctx, "push", PushKey{SubjectID: "S", StateID: "U"}, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if s != "S/U" {
			t.Fatalf("got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("not delivered")
	}
	select {
	case s := <-got:
		t.Fatalf("got %v", s)
	default:
	}
}

func TestSubscribeReplaces(t *testing.T) {
	client, stop := startPipe(t)
	defer stop()
	got := make(chan int, 10)
	detachFirst := client.Subscribe("S", "T", func(json.RawMessage) {
		got <- 1
	})
	client.Subscribe("S", "T", func(json.RawMessage) {
		got <- 2
	})
	// stale detach does not remove the new handler
	detachFirst()
	if _, err := client.Call(t.Context(), "push", PushKey{SubjectID: "S", StateID: "T"}, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-got:
		if n != 2 {
			t.Fatalf("got %v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("not delivered")
	}
}

func TestStreamConn(t *testing.T) {
	hostR, sandboxW := io.Pipe()
	sandboxR, hostW := io.Pipe()
	hostEnd := NewStreamConn(hostR, hostW, hostW, hostR)
	sandboxEnd := NewStreamConn(sandboxR, sandboxW, sandboxW, sandboxR)

	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), sandboxEnd, echoHandler(), testLogger)
	}()
	client := NewClient(hostEnd, testLogger)

	resp, err := client.Call(t.Context(), "echo", echoPayload{Value: "bar"}, []byte("blob"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Blob) != "blob" {
		t.Fatalf("got %q", resp.Blob)
	}
	payload, err := Decode[echoPayload](resp)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Value != "bar" {
		t.Fatalf("got %v", payload)
	}

	client.Close()
	sandboxEnd.Close()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestWebSocket(t *testing.T) {
	server := httptest.NewServer(WebSocketHandler(func(ctx context.Context, conn Conn) {
		Serve(ctx, conn, echoHandler(), testLogger)
	}))
	defer server.Close()

	conn, err := DialWebSocket(t.Context(), nil, "ws"+strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	client := NewClient(conn, testLogger)
	defer client.Close()

	resp, err := client.Call(t.Context(), "echo", echoPayload{Value: "baz"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := Decode[echoPayload](resp)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Value != "baz" {
		t.Fatalf("got %v", payload)
	}

	got := make(chan struct{}, 1)
	client.Subscribe("a", "b", func(json.RawMessage) {
		got <- struct{}{}
	})
	if _, err := client.Call(t.Context(), "push", PushKey{SubjectID: "a", StateID: "b"}, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("not delivered")
	}
}

func TestMessageKind(t *testing.T) {
	ok := true
	for _, c := range []struct {
		msg  Message
		kind Kind
	}{
		{Message{ID: 1, Type: "load"}, KindRequest},
		{Message{ID: 1, OK: &ok}, KindResponse},
		{Message{Type: TypePush, SubjectID: "s"}, KindPush},
	} {
		if c.msg.Kind() != c.kind {
			t.Fatalf("got %v", c.msg.Kind())
		}
	}

	// wire shape
	resp := errorResponse(3, errors.New("foo"))
	bs, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != `{"id":3,"ok":false,"error":"foo"}` {
		t.Fatalf("got %s", bs)
	}
}

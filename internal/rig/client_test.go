package rig

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saviour-lab/console/model"
)

// fakeRig is an in-process websocket endpoint standing in for the rig
// controller. It records received frames and can push frames back.
type fakeRig struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []model.EventFrame
	gotFrame chan model.EventFrame
}

func newFakeRig(t *testing.T) *fakeRig {
	f := &fakeRig{t: t, gotFrame: make(chan model.EventFrame, 16)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame model.EventFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			f.mu.Lock()
			f.received = append(f.received, frame)
			f.mu.Unlock()
			f.gotFrame <- frame
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRig) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeRig) push(t *testing.T, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal push: %v", err)
	}
	frame, _ := json.Marshal(model.EventFrame{Event: event, Data: payload})

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func startClient(t *testing.T, f *fakeRig, opts Options) *Client {
	t.Helper()
	opts.URL = f.url()
	c := New(opts, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	connected := make(chan struct{})
	var once sync.Once
	c.OnConnect(func() { once.Do(func() { close(connected) }) })

	go c.Run(ctx)

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not connect")
	}
	return c
}

// --- dispatch / subscribe ---

func TestSubscribeAndDispatch(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{})

	got := make(chan []byte, 1)
	sub := c.Subscribe(model.EventModuleStatus, func(data []byte) { got <- data })
	defer sub.Release()

	f.push(t, model.EventModuleStatus, model.ModuleStatusPush{ModuleID: "cam0"})

	select {
	case data := <-got:
		var push model.ModuleStatusPush
		if err := json.Unmarshal(data, &push); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if push.ModuleID != "cam0" {
			t.Errorf("ModuleID = %q", push.ModuleID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestSubscriptionRelease_detachesExactlyOnce(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{})

	var mu sync.Mutex
	count := 0
	sub := c.Subscribe(model.EventModuleStatus, func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	// Double release must be safe.
	sub.Release()
	sub.Release()

	keep := make(chan struct{}, 1)
	other := c.Subscribe(model.EventModuleStatus, func([]byte) { keep <- struct{}{} })
	defer other.Release()

	f.push(t, model.EventModuleStatus, model.ModuleStatusPush{ModuleID: "cam0"})

	select {
	case <-keep:
	case <-time.After(5 * time.Second):
		t.Fatal("surviving subscription not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("released handler invoked %d times", count)
	}
}

// --- Emit ---

func TestEmit_whenDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"}, zap.NewNop())

	err := c.Emit(model.EventGetModuleConfigs, struct{}{})
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok || ee.Code != model.ErrRigUnavailable {
		t.Fatalf("err = %v, want RIG_UNAVAILABLE", err)
	}
}

func TestEmit_framesArrive(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{})

	if err := c.Emit(model.EventGetModuleConfig, model.GetModuleConfigRequest{ModuleID: "cam0"}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	select {
	case frame := <-f.gotFrame:
		if frame.Event != model.EventGetModuleConfig {
			t.Errorf("event = %q", frame.Event)
		}
		var req model.GetModuleConfigRequest
		json.Unmarshal(frame.Data, &req)
		if req.ModuleID != "cam0" {
			t.Errorf("ModuleID = %q", req.ModuleID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame did not arrive")
	}
}

// --- save acknowledgment correlation ---

func TestEmitAndAwaitAck_success(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{})

	done := make(chan model.SaveConfigAck, 1)
	go func() {
		ack, err := c.EmitAndAwaitAck(context.Background(), model.EventSaveModuleConfig,
			model.SaveModuleConfigRequest{ID: "cam0", RequestID: "req-1"}, "req-1")
		if err != nil {
			t.Errorf("EmitAndAwaitAck error: %v", err)
		}
		done <- ack
	}()

	<-f.gotFrame
	f.push(t, model.EventSaveConfigAck, model.SaveConfigAck{RequestID: "req-1", Success: true})

	select {
	case ack := <-done:
		if !ack.Success {
			t.Error("ack not successful")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ack not delivered")
	}
}

func TestEmitAndAwaitAck_failureAckPassesThrough(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{})

	done := make(chan model.SaveConfigAck, 1)
	go func() {
		ack, _ := c.EmitAndAwaitAck(context.Background(), model.EventSaveModuleConfig,
			model.SaveModuleConfigRequest{ID: "cam0", RequestID: "req-2"}, "req-2")
		done <- ack
	}()

	<-f.gotFrame
	f.push(t, model.EventSaveConfigAck, model.SaveConfigAck{
		RequestID: "req-2", Success: false, Error: "module offline",
	})

	ack := <-done
	if ack.Success || ack.Error != "module offline" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestEmitAndAwaitAck_timeout(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{AckTimeout: 50 * time.Millisecond})

	_, err := c.EmitAndAwaitAck(context.Background(), model.EventSaveModuleConfig,
		model.SaveModuleConfigRequest{ID: "cam0", RequestID: "req-3"}, "req-3")
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok || ee.Code != model.ErrRigTimeout {
		t.Fatalf("err = %v, want RIG_TIMEOUT", err)
	}
}

func TestEmitAndAwaitAck_mismatchedAckIgnored(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{AckTimeout: 200 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := c.EmitAndAwaitAck(context.Background(), model.EventSaveModuleConfig,
			model.SaveModuleConfigRequest{ID: "cam0", RequestID: "req-4"}, "req-4")
		done <- err
	}()

	<-f.gotFrame
	f.push(t, model.EventSaveConfigAck, model.SaveConfigAck{RequestID: "other", Success: true})

	err := <-done
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok || ee.Code != model.ErrRigTimeout {
		t.Fatalf("err = %v, want RIG_TIMEOUT for mismatched ack", err)
	}
}

// --- instrumentation hooks ---

func TestInstrument_countsInboundAndOutboundFrames(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{})

	received := make(chan string, 4)
	emitted := make(chan string, 4)
	c.Instrument(
		func(event string) { received <- event },
		func(event string) { emitted <- event },
	)

	if err := c.Emit(model.EventGetModuleConfigs, struct{}{}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	<-f.gotFrame
	f.push(t, model.EventModuleStatus, model.ModuleStatusPush{ModuleID: "cam0"})

	select {
	case event := <-emitted:
		if event != model.EventGetModuleConfigs {
			t.Errorf("emitted event = %q", event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("emitted hook not invoked")
	}
	select {
	case event := <-received:
		if event != model.EventModuleStatus {
			t.Errorf("received event = %q", event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("received hook not invoked")
	}
}

func TestInstrument_nilHooksAreSafe(t *testing.T) {
	f := newFakeRig(t)
	c := startClient(t, f, Options{})
	c.Instrument(nil, nil)

	if err := c.Emit(model.EventGetModuleConfigs, struct{}{}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	<-f.gotFrame
}

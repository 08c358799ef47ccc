package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saviour-lab/console/model"
)

// moduleEntry is one scripted module on the fake controller.
type moduleEntry struct {
	typ     string
	name    string
	version int64
	config  string
}

// FakeRig is an in-process WebSocket endpoint standing in for the rig
// controller. It answers the console's state requests from scripted
// module configs, acknowledges save requests, and records every frame it
// receives so tests can assert on the wire traffic.
type FakeRig struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu               sync.Mutex
	conn             *websocket.Conn
	modules          map[string]moduleEntry
	controllerConfig string
	controllerVer    int64
	metadata         model.ExperimentMetadata
	rejectSaves      string
	silentSaves      bool
	received         []model.EventFrame
	saved            []model.EventFrame
	gotFrame         chan model.EventFrame
}

// NewFakeRig starts the fake controller. The server is torn down with the
// test.
func NewFakeRig(t *testing.T) *FakeRig {
	f := &FakeRig{
		t:        t,
		modules:  make(map[string]moduleEntry),
		gotFrame: make(chan model.EventFrame, 64),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the ws:// address the console should dial.
func (f *FakeRig) URL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

// SetModule scripts one module's snapshot. It takes effect on the next
// get_module_configs request; call PushModuleConfigs to broadcast
// immediately.
func (f *FakeRig) SetModule(id, typ, name string, version int64, config string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[id] = moduleEntry{typ: typ, name: name, version: version, config: config}
}

// SetControllerConfig scripts the controller's own configuration.
func (f *FakeRig) SetControllerConfig(version int64, config string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controllerConfig = config
	f.controllerVer = version
}

// SetMetadata scripts the experiment metadata echo.
func (f *FakeRig) SetMetadata(meta model.ExperimentMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = meta
}

// RejectSaves makes the fake acknowledge subsequent saves with a failure
// carrying the given reason. An empty reason restores success acks.
func (f *FakeRig) RejectSaves(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectSaves = reason
}

// SwallowSaves makes the fake drop save requests without acknowledging,
// so the console's ack timeout fires.
func (f *FakeRig) SwallowSaves() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silentSaves = true
}

func (f *FakeRig) serve(w http.ResponseWriter, r *http.Request) {
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
		f.handle(frame)
	}
}

func (f *FakeRig) handle(frame model.EventFrame) {
	f.mu.Lock()
	f.received = append(f.received, frame)
	f.mu.Unlock()

	switch frame.Event {
	case model.EventGetModuleConfigs, model.EventGetModuleConfig:
		// The controller answers single-module requests with a full
		// configs push too.
		f.send(model.EventModuleConfigsPush, f.configsPush())
	case model.EventGetControllerConfig:
		f.mu.Lock()
		cfg, ver := f.controllerConfig, f.controllerVer
		f.mu.Unlock()
		if cfg != "" {
			f.send(model.EventControllerConfigResponse, model.ControllerConfigResponse{
				Version: ver,
				Config:  json.RawMessage(cfg),
			})
		}
	case model.EventGetExperimentMetadata:
		f.mu.Lock()
		meta := f.metadata
		f.mu.Unlock()
		f.send(model.EventExperimentMetadata, model.ExperimentMetadataResponse{
			Status:   "ok",
			Metadata: meta,
		})
	case model.EventSaveModuleConfig, model.EventSaveControllerConfig:
		f.ackSave(frame)
	}

	select {
	case f.gotFrame <- frame:
	default:
	}
}

func (f *FakeRig) ackSave(frame model.EventFrame) {
	f.mu.Lock()
	f.saved = append(f.saved, frame)
	reason, silent := f.rejectSaves, f.silentSaves
	f.mu.Unlock()

	if silent {
		return
	}

	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return
	}
	f.send(model.EventSaveConfigAck, model.SaveConfigAck{
		RequestID: req.RequestID,
		Success:   reason == "",
		Error:     reason,
	})
}

func (f *FakeRig) configsPush() model.ModuleConfigsPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	push := model.ModuleConfigsPush{ModuleConfigs: make(map[string]model.ModuleSnapshot)}
	for id, m := range f.modules {
		push.ModuleConfigs[id] = model.ModuleSnapshot{
			ID:      id,
			Type:    m.typ,
			Name:    m.name,
			Version: m.version,
			Config:  json.RawMessage(m.config),
		}
	}
	return push
}

func (f *FakeRig) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		f.t.Errorf("fake rig: marshal %s: %v", event, err)
		return
	}
	frame, _ := json.Marshal(model.EventFrame{Event: event, Data: payload})

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, frame)
}

// Push broadcasts an arbitrary event frame to the connected console.
func (f *FakeRig) Push(t *testing.T, event string, data any) {
	t.Helper()
	f.mu.Lock()
	connected := f.conn != nil
	f.mu.Unlock()
	if !connected {
		t.Fatal("fake rig: no console connected")
	}
	f.send(event, data)
}

// PushModuleConfigs broadcasts the current scripted snapshot map.
func (f *FakeRig) PushModuleConfigs(t *testing.T) {
	t.Helper()
	f.Push(t, model.EventModuleConfigsPush, f.configsPush())
}

// Disconnect drops the console's connection, forcing a redial.
func (f *FakeRig) Disconnect() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// AwaitFrame blocks until the fake receives a frame with the given event
// name, discarding others, or fails the test after five seconds.
func (f *FakeRig) AwaitFrame(t *testing.T, event string) model.EventFrame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case frame := <-f.gotFrame:
			if frame.Event == event {
				return frame
			}
		case <-deadline:
			t.Fatalf("fake rig: no %s frame received", event)
		}
	}
}

// SavedFrames returns a copy of the save requests received so far.
func (f *FakeRig) SavedFrames() []model.EventFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.EventFrame(nil), f.saved...)
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/saviour-lab/console/internal/config"
	"github.com/saviour-lab/console/internal/configtree"
	"github.com/saviour-lab/console/internal/session"
	"github.com/saviour-lab/console/model"
)

const cameraSnapshot = `{
	"name": "overhead",
	"fps": 30,
	"camera": {"exposure": 5.5, "auto": true},
	"_id": "cam0-internal"
}`

const ttlSnapshot = `{
	"device": "ttl0",
	"pins": {},
	"_available_modes": {"Input": {}, "Output": {}},
	"_mode_settings_schema": {
		"Input": {"_threshold": {"type": "float", "min": 0, "max": 5, "default": 2.5}},
		"Output": {"_duty": {"type": "int", "min": 0, "max": 100, "default": 50}}
	}
}`

// --- fixtures ---

type snapEntry struct {
	value   configtree.Value
	version int64
}

type stubModules struct {
	mods       []model.ModuleDescriptor
	snaps      map[string]snapEntry
	health     map[string]any
	meta       model.ExperimentMetadata
	recordings model.RecordingsListPush
	dropped    []string
}

func (s *stubModules) Modules() []model.ModuleDescriptor { return s.mods }

func (s *stubModules) Snapshot(moduleID string) (configtree.Value, int64, error) {
	e, ok := s.snaps[moduleID]
	if !ok {
		return configtree.Value{}, 0, model.NewNotFoundError("unknown module")
	}
	return e.value, e.version, nil
}

func (s *stubModules) Health() map[string]any               { return s.health }
func (s *stubModules) Metadata() model.ExperimentMetadata   { return s.meta }
func (s *stubModules) Recordings() model.RecordingsListPush { return s.recordings }
func (s *stubModules) Drop(moduleID string)                 { s.dropped = append(s.dropped, moduleID) }

type emittedEvent struct {
	event string
	data  any
}

type fakeChannel struct {
	connected bool
	emitted   []emittedEvent
	ack       model.SaveConfigAck
	ackErr    error
}

func (f *fakeChannel) Connected() bool { return f.connected }

func (f *fakeChannel) Emit(event string, data any) error {
	if !f.connected {
		return model.NewRigUnavailableError()
	}
	f.emitted = append(f.emitted, emittedEvent{event: event, data: data})
	return nil
}

func (f *fakeChannel) EmitAndAwaitAck(_ context.Context, event string, data any, _ string) (model.SaveConfigAck, error) {
	f.emitted = append(f.emitted, emittedEvent{event: event, data: data})
	if f.ackErr != nil {
		return model.SaveConfigAck{}, f.ackErr
	}
	return f.ack, nil
}

func (f *fakeChannel) lastEvent() string {
	if len(f.emitted) == 0 {
		return ""
	}
	return f.emitted[len(f.emitted)-1].event
}

type testEnv struct {
	router   http.Handler
	rig      *fakeChannel
	modules  *stubModules
	sessions *session.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mustSnap := func(raw string) configtree.Value {
		v, err := configtree.ParseJSON([]byte(raw))
		if err != nil {
			t.Fatalf("parse snapshot: %v", err)
		}
		return v
	}

	modules := &stubModules{
		mods: []model.ModuleDescriptor{
			{ID: "cam0", Type: "camera", Ready: true},
			{ID: "ttl0", Type: "ttl", Ready: true},
		},
		snaps: map[string]snapEntry{
			"cam0":       {value: mustSnap(cameraSnapshot), version: 3},
			"ttl0":       {value: mustSnap(ttlSnapshot), version: 1},
			"controller": {value: mustSnap(`{"save_path": "/data", "_schema": 1}`), version: 7},
		},
		health: map[string]any{"cam0": map[string]any{"fps_actual": 29.7}},
		meta:   model.ExperimentMetadata{Experiment: "maze-3"},
	}
	rig := &fakeChannel{connected: true, ack: model.SaveConfigAck{Success: true}}
	sessions := session.NewManager(zap.NewNop())

	cfg := config.Defaults()
	router := NewRouter(Dependencies{
		Config:   cfg,
		Logger:   zap.NewNop(),
		Sessions: sessions,
		Modules:  modules,
		Rig:      rig,
	})

	return &testEnv{router: router, rig: rig, modules: modules, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeForm(t *testing.T, rec *httptest.ResponseRecorder) model.FormDescriptor {
	t.Helper()
	var desc model.FormDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("decode form: %v (%s)", err, rec.Body.String())
	}
	return desc
}

func findNode(nodes []model.FormNode, path string) *model.FormNode {
	for i := range nodes {
		if nodes[i].Path == path {
			return &nodes[i]
		}
		if found := findNode(nodes[i].Children, path); found != nil {
			return found
		}
	}
	return nil
}

// --- module list ---

func TestListModules(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ui/modules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp moduleListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Modules) != 2 {
		t.Errorf("len(modules) = %d, want 2", len(resp.Modules))
	}
}

// --- forms ---

func TestGetForm_unknown_module(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ui/modules/nope/form", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	// The miss triggers a targeted refresh request to the controller.
	if env.rig.lastEvent() != model.EventGetModuleConfig {
		t.Errorf("last emitted event = %q, want %q", env.rig.lastEvent(), model.EventGetModuleConfig)
	}
}

func TestGetForm_filters_reserved_keys(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	desc := decodeForm(t, rec)
	if desc.ModuleID != "cam0" || desc.Version != 3 {
		t.Errorf("descriptor identity = %q v%d", desc.ModuleID, desc.Version)
	}
	if findNode(desc.Nodes, "_id") != nil {
		t.Error("reserved key _id leaked into the form")
	}
	if findNode(desc.Nodes, "fps") == nil {
		t.Error("fps field missing from the form")
	}
	if findNode(desc.Nodes, "camera.exposure") == nil {
		t.Error("nested camera.exposure field missing")
	}
}

func TestEditField(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/form/field",
		fieldEditRequest{Path: "fps", Value: "60"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	desc := decodeForm(t, rec)
	if !desc.Dirty {
		t.Error("form should be dirty after an edit")
	}
	node := findNode(desc.Nodes, "fps")
	if node == nil {
		t.Fatal("fps node missing")
	}
	// Coerced to the previous value's number kind.
	if node.Value != float64(60) {
		t.Errorf("fps = %v (%T), want 60", node.Value, node.Value)
	}
}

func TestEditField_unknown_path(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/form/field",
		fieldEditRequest{Path: "camera.gain", Value: 1})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestToggleCollapse(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/form/collapse",
		collapseRequest{Path: "camera"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	desc := decodeForm(t, rec)
	section := findNode(desc.Nodes, "camera")
	if section == nil {
		t.Fatal("camera section missing")
	}
	if !section.Collapsed {
		t.Error("camera section should be collapsed")
	}
	if len(section.Children) != 0 {
		t.Error("collapsed section should omit children")
	}
}

// --- pins ---

func TestPinLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/ttl0/form", nil)

	rec := env.do(t, http.MethodPost, "/ui/modules/ttl0/pins", addPinRequest{ID: "3"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add pin status = %d: %s", rec.Code, rec.Body.String())
	}
	desc := decodeForm(t, rec)
	if desc.Pins == nil || len(desc.Pins.Pins) != 1 {
		t.Fatalf("pins = %+v, want one pin", desc.Pins)
	}
	if desc.Pins.Pins[0].Mode != "None" {
		t.Errorf("new pin mode = %q, want None", desc.Pins.Pins[0].Mode)
	}

	rec = env.do(t, http.MethodPost, "/ui/modules/ttl0/pins/3/mode",
		pinModeRequest{Mode: "Input"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set mode status = %d: %s", rec.Code, rec.Body.String())
	}
	desc = decodeForm(t, rec)
	pin := desc.Pins.Pins[0]
	if pin.Mode != "Input" || len(pin.Fields) != 1 {
		t.Fatalf("pin = %+v, want Input mode with one field", pin)
	}
	if pin.Fields[0].Name != "threshold" || pin.Fields[0].Value != 2.5 {
		t.Errorf("field = %+v, want threshold defaulted to 2.5", pin.Fields[0])
	}

	rec = env.do(t, http.MethodPost, "/ui/modules/ttl0/pins/3/field",
		pinFieldRequest{Name: "threshold", Value: 4.2})
	if rec.Code != http.StatusOK {
		t.Fatalf("set field status = %d: %s", rec.Code, rec.Body.String())
	}
	desc = decodeForm(t, rec)
	if got := desc.Pins.Pins[0].Fields[0].Value; got != 4.2 {
		t.Errorf("threshold = %v, want 4.2", got)
	}

	rec = env.do(t, http.MethodDelete, "/ui/modules/ttl0/pins/3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove pin status = %d: %s", rec.Code, rec.Body.String())
	}
	desc = decodeForm(t, rec)
	if len(desc.Pins.Pins) != 0 {
		t.Errorf("pins after remove = %+v, want none", desc.Pins.Pins)
	}
}

func TestPinFieldRangeRejected(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/ttl0/form", nil)
	env.do(t, http.MethodPost, "/ui/modules/ttl0/pins", addPinRequest{ID: "1"})
	env.do(t, http.MethodPost, "/ui/modules/ttl0/pins/1/mode", pinModeRequest{Mode: "Input"})

	rec := env.do(t, http.MethodPost, "/ui/modules/ttl0/pins/1/field",
		pinFieldRequest{Name: "threshold", Value: 9.9})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 for out-of-range value", rec.Code)
	}
}

// --- save flow ---

func TestSave_success(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)
	env.do(t, http.MethodPost, "/ui/modules/cam0/form/field",
		fieldEditRequest{Path: "fps", Value: 60})

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if env.rig.lastEvent() != model.EventSaveModuleConfig {
		t.Errorf("emitted event = %q, want save_module_config", env.rig.lastEvent())
	}
	req, ok := env.rig.emitted[len(env.rig.emitted)-1].data.(model.SaveModuleConfigRequest)
	if !ok {
		t.Fatalf("emitted payload type %T", env.rig.emitted[len(env.rig.emitted)-1].data)
	}
	if req.ID != "cam0" || req.RequestID == "" {
		t.Errorf("save request = %+v", req)
	}
	if _, leaked := req.Config.Config["_id"]; leaked {
		t.Error("reserved key _id leaked into the save payload")
	}
	if req.Config.Config["fps"] != float64(60) {
		t.Errorf("saved fps = %v, want 60", req.Config.Config["fps"])
	}

	// Session is discarded on success.
	if env.sessions.Has("cam0") {
		t.Error("session should be discarded after a successful save")
	}
}

func TestSave_rejected_keeps_session(t *testing.T) {
	env := newTestEnv(t)
	env.rig.ack = model.SaveConfigAck{Success: false, Error: "fps too high"}

	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)
	env.do(t, http.MethodPost, "/ui/modules/cam0/form/field",
		fieldEditRequest{Path: "fps", Value: 500})

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/save", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	if !env.sessions.Has("cam0") {
		t.Error("session should survive a rejected save")
	}

	desc := decodeForm(t, env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil))
	if !desc.Dirty {
		t.Error("working copy edits should survive a rejected save")
	}
}

func TestSave_timeout_keeps_session(t *testing.T) {
	env := newTestEnv(t)
	env.rig.ackErr = model.NewRigTimeoutError()

	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)
	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/save", nil)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if !env.sessions.Has("cam0") {
		t.Error("session should survive a save timeout")
	}
}

func TestSave_no_session(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/save", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestSave_controller_uses_controller_event(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/controller/form", nil)

	rec := env.do(t, http.MethodPost, "/ui/modules/controller/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.rig.lastEvent() != model.EventSaveControllerConfig {
		t.Errorf("emitted event = %q, want save_controller_config", env.rig.lastEvent())
	}
}

// --- session lifecycle ---

func TestDiscardSession(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)
	env.do(t, http.MethodPost, "/ui/modules/cam0/form/field",
		fieldEditRequest{Path: "fps", Value: 60})

	rec := env.do(t, http.MethodDelete, "/ui/modules/cam0/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// A fresh form re-seeds from the registry snapshot.
	desc := decodeForm(t, env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil))
	if desc.Dirty {
		t.Error("form should be clean after discard")
	}
	if node := findNode(desc.Nodes, "fps"); node == nil || node.Value != float64(30) {
		t.Errorf("fps after discard = %+v, want original 30", node)
	}
}

// --- module removal, health, experiment ---

func TestRemoveModule(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ui/modules/cam0/form", nil)

	rec := env.do(t, http.MethodDelete, "/ui/modules/cam0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if env.rig.lastEvent() != model.EventRemoveModule {
		t.Errorf("emitted event = %q, want remove_module", env.rig.lastEvent())
	}
	if len(env.modules.dropped) != 1 || env.modules.dropped[0] != "cam0" {
		t.Errorf("dropped = %v, want [cam0]", env.modules.dropped)
	}
	if env.sessions.Has("cam0") {
		t.Error("session should be discarded when the module is removed")
	}
}

func TestModuleHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ui/modules/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["module_health"]["cam0"]; !ok {
		t.Errorf("body = %v, want cam0 health", resp)
	}
	if env.rig.lastEvent() != model.EventGetModuleHealth {
		t.Errorf("emitted event = %q, want get_module_health refresh", env.rig.lastEvent())
	}
}

func TestExperimentMetadata(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ui/experiment", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var resp struct {
		Metadata model.ExperimentMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Metadata.Experiment != "maze-3" {
		t.Errorf("metadata = %+v", resp.Metadata)
	}

	rec = env.do(t, http.MethodPut, "/ui/experiment",
		model.ExperimentMetadata{Experiment: "maze-4", RatID: "r7"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.rig.lastEvent() != model.EventUpdateExperimentMetadata {
		t.Errorf("emitted event = %q, want update_experiment_metadata", env.rig.lastEvent())
	}
}

// --- command passthrough / recordings ---

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/command",
		map[string]any{"type": "start_recording", "params": map[string]any{"duration": 30}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.rig.lastEvent() != model.EventSendCommand {
		t.Fatalf("emitted event = %q, want send_command", env.rig.lastEvent())
	}

	req, ok := env.rig.emitted[len(env.rig.emitted)-1].data.(model.SendCommandRequest)
	if !ok {
		t.Fatalf("emitted payload has type %T", env.rig.emitted[len(env.rig.emitted)-1].data)
	}
	if req.Type != "start_recording" || req.ModuleID != "cam0" {
		t.Errorf("request = %+v", req)
	}
	if req.Params["duration"] != 30.0 {
		t.Errorf("params = %v", req.Params)
	}
}

func TestSendCommand_missingType(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/ui/modules/cam0/command",
		map[string]any{"params": map[string]any{}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Error.Details) != 1 || resp.Error.Details[0].Field != "type" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
	if len(env.rig.emitted) != 0 {
		t.Errorf("invalid command still reached the rig: %+v", env.rig.emitted)
	}
}

func TestListRecordings(t *testing.T) {
	env := newTestEnv(t)
	env.modules.recordings = model.RecordingsListPush{
		ModuleRecordings: []map[string]any{
			{"module_id": "cam0", "filename": "trial-1.mkv"},
		},
		ExportedRecordings: []map[string]any{
			{"filename": "trial-0.tar"},
		},
	}

	rec := env.do(t, http.MethodGet, "/ui/recordings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ModuleRecordings   []map[string]any `json:"module_recordings"`
		ExportedRecordings []map[string]any `json:"exported_recordings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.ModuleRecordings) != 1 || resp.ModuleRecordings[0]["filename"] != "trial-1.mkv" {
		t.Errorf("module recordings = %+v", resp.ModuleRecordings)
	}
	if len(resp.ExportedRecordings) != 1 {
		t.Errorf("exported recordings = %+v", resp.ExportedRecordings)
	}

	// Serving the cache also kicks off a broadcast refresh.
	if env.rig.lastEvent() != model.EventSendCommand {
		t.Errorf("emitted event = %q, want send_command", env.rig.lastEvent())
	}
	req := env.rig.emitted[len(env.rig.emitted)-1].data.(model.SendCommandRequest)
	if req.Type != "list_recordings" || req.ModuleID != "all" {
		t.Errorf("refresh request = %+v", req)
	}
}

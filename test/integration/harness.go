// Package integration provides an end-to-end test harness for the
// operator console: a full HTTP server wired through a real rig channel
// client to a fake rig controller served over WebSocket.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/saviour-lab/console/internal/config"
	"github.com/saviour-lab/console/internal/registry"
	"github.com/saviour-lab/console/internal/rig"
	"github.com/saviour-lab/console/internal/session"
	"github.com/saviour-lab/console/internal/transport"
	"github.com/saviour-lab/console/model"
)

// TestHarness encapsulates a fully wired console instance talking to a
// fake rig controller.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Rig      *FakeRig
	Channel  *rig.Client
	Sessions *session.Manager
	Registry *registry.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*config.Config)

// WithAuth enables operator authentication with the given shared secret.
func WithAuth(secret string) HarnessOption {
	return func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.Secret = secret
	}
}

// WithAckTimeout sets the save acknowledgment timeout.
func WithAckTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Rig.AckTimeout = d
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Server.HandlerTimeout = d
	}
}

// NewHarness starts a fake rig controller and a console wired to it, and
// blocks until the channel has connected and requested initial state.
// Script modules on h.Rig before calling when the test needs them present
// from the first sync.
func NewHarness(t *testing.T, fake *FakeRig, opts ...HarnessOption) *TestHarness {
	t.Helper()

	cfg := config.Defaults()
	cfg.Rig.URL = fake.URL()
	cfg.Rig.ReconnectMin = 10 * time.Millisecond
	cfg.Rig.ReconnectMax = 100 * time.Millisecond
	for _, opt := range opts {
		opt(cfg)
	}

	logger := zap.NewNop()
	channel := rig.New(rig.Options{
		URL:          cfg.Rig.URL,
		DialTimeout:  cfg.Rig.DialTimeout,
		AckTimeout:   cfg.Rig.AckTimeout,
		ReconnectMin: cfg.Rig.ReconnectMin,
		ReconnectMax: cfg.Rig.ReconnectMax,
	}, logger)

	sessions := session.NewManager(logger)
	modules := registry.New(sessions, logger)
	detach := modules.Attach(channel)
	t.Cleanup(detach)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go channel.Run(ctx)

	var authenticate func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		authenticate = transport.JWTAuthenticator(cfg.Auth)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Sessions:     sessions,
		Modules:      modules,
		Rig:          channel,
		Authenticate: authenticate,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	h := &TestHarness{
		t:        t,
		server:   server,
		Rig:      fake,
		Channel:  channel,
		Sessions: sessions,
		Registry: modules,
		cfg:      cfg,
	}

	// The channel requests full state on every connect; the fake answers
	// from its scripted modules, so once this frame has been handled the
	// registry is populated.
	fake.AwaitFrame(t, model.EventGetModuleConfigs)
	h.waitForSync()
	return h
}

// waitForSync polls until the registry reflects the fake's scripted
// modules, so tests never race the initial push.
func (h *TestHarness) waitForSync() {
	h.t.Helper()
	h.Rig.mu.Lock()
	want := len(h.Rig.modules)
	h.Rig.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.Registry.Modules()) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("registry never synced %d modules", want)
}

// WaitConnected blocks until the channel reports connected, used after a
// forced disconnect.
func (h *TestHarness) WaitConnected() {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Channel.Connected() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatal("channel did not reconnect")
}

// Do issues a request against the console. A nil body sends no payload;
// anything else is JSON-encoded. When auth is enabled a default operator
// token is attached unless the test overrides the Authorization header
// afterwards via DoRaw.
func (h *TestHarness) Do(method, path string, body any) (*http.Response, []byte) {
	h.t.Helper()
	token := ""
	if h.cfg.Auth.Enabled {
		token = h.Token("operator-1")
	}
	return h.DoRaw(method, path, body, token)
}

// DoRaw issues a request with an explicit bearer token; empty means no
// Authorization header.
func (h *TestHarness) DoRaw(method, path string, body any, token string) (*http.Response, []byte) {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return resp, raw
}

// Decode unmarshals a JSON response body, failing the test on error.
func (h *TestHarness) Decode(raw []byte, out any) {
	h.t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		h.t.Fatalf("decode response %q: %v", raw, err)
	}
}

// Form fetches the module's form descriptor, opening a session as a side
// effect.
func (h *TestHarness) Form(moduleID string) model.FormDescriptor {
	h.t.Helper()
	resp, raw := h.Do(http.MethodGet, "/ui/modules/"+moduleID+"/form", nil)
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("get form %s: status %d: %s", moduleID, resp.StatusCode, raw)
	}
	var desc model.FormDescriptor
	h.Decode(raw, &desc)
	return desc
}

// EditField applies one field edit and returns the refreshed form.
func (h *TestHarness) EditField(moduleID, path string, value any) model.FormDescriptor {
	h.t.Helper()
	resp, raw := h.Do(http.MethodPost, "/ui/modules/"+moduleID+"/form/field",
		map[string]any{"path": path, "value": value})
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("edit %s %s: status %d: %s", moduleID, path, resp.StatusCode, raw)
	}
	var desc model.FormDescriptor
	h.Decode(raw, &desc)
	return desc
}

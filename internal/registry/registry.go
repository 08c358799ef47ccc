// Package registry maintains the console's view of the rig: which modules
// are connected, their latest configuration snapshots, readiness, and
// health, all fed by pushes on the event channel. The controller's own
// configuration is tracked as a pseudo-module so the form machinery treats
// it uniformly.
package registry

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saviour-lab/console/internal/configtree"
	"github.com/saviour-lab/console/internal/rig"
	"github.com/saviour-lab/console/internal/session"
	"github.com/saviour-lab/console/model"
)

// ControllerID is the pseudo-module id under which the controller's own
// configuration is held.
const ControllerID = "controller"

type moduleState struct {
	id        string
	typ       string
	name      string
	ready     bool
	lastSeen  time.Time
	snapshot  configtree.Value
	version   int64
	hasConfig bool
}

// Registry is the in-memory rig view. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	sessions   *session.Manager
	modules    map[string]*moduleState
	health     map[string]any
	metadata   model.ExperimentMetadata
	recordings model.RecordingsListPush
}

// New creates an empty registry. Configuration pushes are forwarded to the
// session manager so open edit sessions can reconcile them.
func New(sessions *session.Manager, logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: sessions,
		modules:  make(map[string]*moduleState),
		health:   make(map[string]any),
	}
}

// Attach subscribes the registry to the channel's push events and
// registers a reconnect hook that re-requests the full rig state. The
// returned release function detaches everything; it is idempotent.
func (r *Registry) Attach(client *rig.Client) func() {
	subs := []*rig.Subscription{
		client.Subscribe(model.EventModuleConfigsPush, r.handleModuleConfigs),
		client.Subscribe(model.EventControllerConfigResponse, r.handleControllerConfig),
		client.Subscribe(model.EventModuleStatus, r.handleModuleStatus),
		client.Subscribe(model.EventModuleReadiness, r.handleReadiness),
		client.Subscribe(model.EventModuleHealth, r.handleHealth),
		client.Subscribe(model.EventExperimentMetadata, r.handleMetadata),
		client.Subscribe(model.EventExperimentMetadataUpdated, r.handleMetadata),
		client.Subscribe(model.EventRecordingsList, r.handleRecordings),
	}

	client.OnConnect(func() {
		// Resync after every (re)connect: responses arrive later as
		// ordinary pushes.
		if err := client.Emit(model.EventGetModuleConfigs, struct{}{}); err != nil {
			r.logger.Warn("module configs resync failed", zap.Error(err))
		}
		if err := client.Emit(model.EventGetControllerConfig, struct{}{}); err != nil {
			r.logger.Warn("controller config resync failed", zap.Error(err))
		}
		if err := client.Emit(model.EventGetExperimentMetadata, struct{}{}); err != nil {
			r.logger.Warn("experiment metadata resync failed", zap.Error(err))
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, s := range subs {
				s.Release()
			}
		})
	}
}

func (r *Registry) handleModuleConfigs(data []byte) {
	var push model.ModuleConfigsPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn("module configs push rejected", zap.Error(err))
		return
	}
	if push.Error != "" {
		r.logger.Warn("module configs push carried an error",
			zap.String("error", push.Error))
	}

	for id, ms := range push.ModuleConfigs {
		r.ingestSnapshot(id, ms)
	}
}

func (r *Registry) ingestSnapshot(id string, ms model.ModuleSnapshot) {
	snapshot, err := configtree.ParseJSON(ms.Config)
	if err != nil {
		r.logger.Warn("module snapshot rejected",
			zap.String("module_id", id), zap.Error(err))
		return
	}

	r.mu.Lock()
	m := r.modules[id]
	if m == nil {
		m = &moduleState{id: id}
		r.modules[id] = m
	}
	if ms.Type != "" {
		m.typ = ms.Type
	}
	if ms.Name != "" {
		m.name = ms.Name
	}
	version := ms.Version
	if version == 0 {
		// Unstamped controllers get a locally monotonic version so
		// stale-push rejection still has an ordering to work with.
		version = m.version + 1
	} else if version <= m.version {
		cached := m.version
		r.mu.Unlock()
		r.logger.Warn("out-of-order module snapshot ignored",
			zap.String("module_id", id),
			zap.Int64("push_version", version),
			zap.Int64("cached_version", cached),
		)
		return
	}
	m.snapshot = snapshot
	m.version = version
	m.hasConfig = true
	m.lastSeen = time.Now().UTC()
	r.mu.Unlock()

	r.sessions.ApplyPush(id, snapshot, version)
}

func (r *Registry) handleControllerConfig(data []byte) {
	var resp model.ControllerConfigResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		r.logger.Warn("controller config response rejected", zap.Error(err))
		return
	}
	r.ingestSnapshot(ControllerID, model.ModuleSnapshot{
		Type:    "controller",
		Version: resp.Version,
		Config:  resp.Config,
	})
}

func (r *Registry) handleModuleStatus(data []byte) {
	var push model.ModuleStatusPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn("module status push rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.modules[push.ModuleID]
	if m == nil {
		m = &moduleState{id: push.ModuleID}
		r.modules[push.ModuleID] = m
	}
	m.lastSeen = time.Now().UTC()
}

func (r *Registry) handleReadiness(data []byte) {
	var push model.ModuleReadinessPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn("module readiness push rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.modules[push.ModuleID]
	if m == nil {
		m = &moduleState{id: push.ModuleID}
		r.modules[push.ModuleID] = m
	}
	m.ready = push.Ready
	m.lastSeen = time.Now().UTC()
}

func (r *Registry) handleHealth(data []byte) {
	var push model.ModuleHealthPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn("module health push rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = push.ModuleHealth
}

func (r *Registry) handleMetadata(data []byte) {
	var resp model.ExperimentMetadataResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		r.logger.Warn("experiment metadata push rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = resp.Metadata
}

func (r *Registry) handleRecordings(data []byte) {
	var push model.RecordingsListPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn("recordings list push rejected", zap.Error(err))
		return
	}
	if push.Error != "" {
		r.logger.Warn("recordings list push carried an error",
			zap.String("error", push.Error))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordings = push
}

// Recordings returns the last received recordings listing.
func (r *Registry) Recordings() model.RecordingsListPush {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recordings
}

// Metadata returns the last received experiment metadata block.
func (r *Registry) Metadata() model.ExperimentMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

// Modules lists the known hardware modules sorted by id. The controller
// pseudo-module is excluded; it has its own endpoints.
func (r *Registry) Modules() []model.ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ModuleDescriptor, 0, len(r.modules))
	for id, m := range r.modules {
		if id == ControllerID {
			continue
		}
		desc := model.ModuleDescriptor{
			ID:    id,
			Type:  m.typ,
			Name:  m.name,
			Ready: m.ready,
		}
		if !m.lastSeen.IsZero() {
			desc.LastSeen = m.lastSeen.Format(time.RFC3339)
		}
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns the latest configuration snapshot and version for a
// module. NOT_FOUND covers both an unknown module and a known module whose
// configuration has not arrived yet.
func (r *Registry) Snapshot(moduleID string) (configtree.Value, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.modules[moduleID]
	if m == nil || !m.hasConfig {
		return configtree.Value{}, 0, model.NewNotFoundError(
			"no configuration received for module " + strconv.Quote(moduleID))
	}
	return m.snapshot, m.version, nil
}

// Health returns the last received module health map.
func (r *Registry) Health() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}

// Drop removes a module from the local view, mirroring a remove_module
// request.
func (r *Registry) Drop(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, moduleID)
}

// Package session owns the edit sessions of the config form: one working
// copy per module, created when the form is first requested, mutated
// field-by-field as the operator edits, and destroyed when a save completes
// or the operator discards it.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saviour-lab/console/internal/configtree"
	"github.com/saviour-lab/console/internal/form"
	"github.com/saviour-lab/console/internal/pins"
	"github.com/saviour-lab/console/model"
)

// session is one module's in-progress edit state. Fields are guarded by
// the Manager's mutex.
type session struct {
	moduleID    string
	working     configtree.Value // unfiltered: reserved keys stay for schema and rendering decisions
	baseVersion int64
	collapse    form.CollapseState
	schema      pins.Schema
	hasSchema   bool
	dirty       bool
	createdAt   time.Time
}

// Manager holds all open edit sessions, keyed by module id. The controller
// pseudo-module shares the same machinery under its own id.
type Manager struct {
	mu          sync.Mutex
	logger      *zap.Logger
	sessions    map[string]*session
	onStalePush func(moduleID string)
}

// NewManager creates an empty session manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// OnStalePush registers a counter invoked each time a stale push is
// rejected against an open session.
func (m *Manager) OnStalePush(hook func(moduleID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStalePush = hook
}

// Begin opens an edit session from a snapshot at the given version. If a
// session is already open for the module it is kept as is: re-requesting
// the form must not clobber in-progress edits.
func (m *Manager) Begin(moduleID string, snapshot configtree.Value, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.sessions[moduleID]; open {
		return
	}

	s := &session{
		moduleID:    moduleID,
		working:     snapshot,
		baseVersion: version,
		collapse:    form.NewCollapseState(),
		createdAt:   time.Now().UTC(),
	}
	s.collapse.SeedDefaults(snapshot)
	s.schema, s.hasSchema = pins.ParseSchema(snapshot)
	m.sessions[moduleID] = s
}

// Has reports whether an edit session is open for the module.
func (m *Manager) Has(moduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, open := m.sessions[moduleID]
	return open
}

// Count returns the number of open edit sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RenderForm resolves the module's working copy into its form descriptor.
// The generic renderer sees the filtered tree; when the module declares a
// pin schema, the pins subtree is lifted out of the generic walk and
// rendered as the dynamic pin panel instead.
func (m *Manager) RenderForm(moduleID string) (model.FormDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, open := m.sessions[moduleID]
	if !open {
		return model.FormDescriptor{}, model.NewNoSessionError(moduleID)
	}

	desc := model.FormDescriptor{
		ModuleID: moduleID,
		Version:  s.baseVersion,
		Dirty:    s.dirty,
		Nodes:    []model.FormNode{},
	}

	filtered, ok := configtree.Filter(s.working)
	if ok && s.hasSchema {
		filtered = dropKey(filtered, pins.SubtreeKey)
	}
	if filtered.Kind() == configtree.KindObject {
		desc.Nodes = form.Render(filtered, s.collapse)
	}

	if s.hasSchema {
		pinsVal, _ := s.working.Obj().Get(pins.SubtreeKey)
		desc.Pins = pins.RenderPanel(pinsVal, s.schema)
	}
	return desc, nil
}

// ApplyEdit coerces a raw edit value by the kind of the existing value at
// the path and writes it into the working copy. A vanished path aborts
// only this edit; the rest of the working copy is untouched.
func (m *Manager) ApplyEdit(moduleID, rawPath string, raw any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, open := m.sessions[moduleID]
	if !open {
		return model.NewNoSessionError(moduleID)
	}

	path := configtree.ParsePath(rawPath)
	if len(path) == 0 {
		return model.NewBadRequestError("field path is required")
	}
	for _, seg := range path {
		if configtree.Reserved(seg) {
			return model.NewForbiddenError("reserved keys are not editable")
		}
	}
	if s.hasSchema && path[0] == pins.SubtreeKey {
		return model.NewBadRequestError("pin entries are edited through the pin operations")
	}

	prev, err := configtree.Read(s.working, path)
	if err != nil {
		return err
	}
	next, err := configtree.Coerce(prev, raw)
	if err != nil {
		return err
	}
	updated, err := configtree.Write(s.working, path, next)
	if err != nil {
		return err
	}

	s.working = updated
	s.dirty = true
	return nil
}

// ToggleCollapse flips the collapse flag of exactly one section path.
func (m *Manager) ToggleCollapse(moduleID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, open := m.sessions[moduleID]
	if !open {
		return model.NewNoSessionError(moduleID)
	}
	s.collapse.Toggle(path)
	return nil
}

// AddPin inserts a new pin with mode None into the module's pin subtree.
func (m *Manager) AddPin(moduleID, rawID string) error {
	return m.updatePins(moduleID, func(s *session, cur configtree.Value) (configtree.Value, error) {
		return pins.Add(cur, rawID)
	})
}

// RemovePin deletes a pin unconditionally.
func (m *Manager) RemovePin(moduleID, id string) error {
	return m.updatePins(moduleID, func(s *session, cur configtree.Value) (configtree.Value, error) {
		return pins.Remove(cur, id), nil
	})
}

// SetPinMode replaces a pin's record with the new mode and its declared
// defaults.
func (m *Manager) SetPinMode(moduleID, id, mode string) error {
	return m.updatePins(moduleID, func(s *session, cur configtree.Value) (configtree.Value, error) {
		return pins.SetMode(cur, id, mode, s.schema)
	})
}

// SetPinField overwrites one mode-specific field on a pin.
func (m *Manager) SetPinField(moduleID, id, field string, raw any) error {
	return m.updatePins(moduleID, func(s *session, cur configtree.Value) (configtree.Value, error) {
		return pins.SetField(cur, id, field, raw, s.schema)
	})
}

func (m *Manager) updatePins(moduleID string, op func(*session, configtree.Value) (configtree.Value, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, open := m.sessions[moduleID]
	if !open {
		return model.NewNoSessionError(moduleID)
	}
	if !s.hasSchema {
		return model.NewBadRequestError("module does not declare a pin schema")
	}

	cur, _ := s.working.Obj().Get(pins.SubtreeKey)
	next, err := op(s, cur)
	if err != nil {
		return err
	}

	updated := setKey(s.working, pins.SubtreeKey, next)
	s.working = updated
	s.dirty = true
	return nil
}

// ApplyPush reconciles an incoming snapshot push with an open session.
// Pushes at or below the session's base version are stale and rejected;
// a newer push replaces the working copy wholesale, discarding unsaved
// edits (the controller's state wins). Collapse state is kept so the
// operator's view does not jump around. Returns true when the push was
// applied to the session; modules without a session always report true
// since there is nothing to protect.
func (m *Manager) ApplyPush(moduleID string, snapshot configtree.Value, version int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, open := m.sessions[moduleID]
	if !open {
		return true
	}

	if version <= s.baseVersion {
		m.logger.Warn("stale configuration push rejected",
			zap.String("module_id", moduleID),
			zap.Int64("push_version", version),
			zap.Int64("base_version", s.baseVersion),
		)
		if m.onStalePush != nil {
			m.onStalePush(moduleID)
		}
		return false
	}

	if s.dirty {
		m.logger.Warn("configuration push overwrote unsaved edits",
			zap.String("module_id", moduleID),
			zap.Int64("push_version", version),
		)
	}

	s.working = snapshot
	s.baseVersion = version
	s.dirty = false
	s.schema, s.hasSchema = pins.ParseSchema(snapshot)
	return true
}

// SavePayload filters the working copy and returns the editable tree in
// wire form. An all-reserved tree saves as an empty object.
func (m *Manager) SavePayload(moduleID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, open := m.sessions[moduleID]
	if !open {
		return nil, model.NewNoSessionError(moduleID)
	}

	filtered, ok := configtree.Filter(s.working)
	if !ok {
		return map[string]any{}, nil
	}
	payload, _ := filtered.Interface().(map[string]any)
	return payload, nil
}

// Discard destroys the module's session, if any.
func (m *Manager) Discard(moduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, moduleID)
}

// dropKey returns v without the given top-level key.
func dropKey(v configtree.Value, key string) configtree.Value {
	if v.Kind() != configtree.KindObject {
		return v
	}
	out := configtree.NewObject()
	for _, k := range v.Obj().Keys() {
		if k == key {
			continue
		}
		child, _ := v.Obj().Get(k)
		out.Set(k, child)
	}
	return configtree.ObjectValue(out)
}

// setKey returns v with the given top-level key replaced (or appended),
// sharing all other subtrees.
func setKey(v configtree.Value, key string, child configtree.Value) configtree.Value {
	out := configtree.NewObject()
	if v.Kind() == configtree.KindObject {
		for _, k := range v.Obj().Keys() {
			cv, _ := v.Obj().Get(k)
			out.Set(k, cv)
		}
	}
	out.Set(key, child)
	return configtree.ObjectValue(out)
}

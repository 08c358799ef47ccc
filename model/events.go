package model

import "encoding/json"

// Rig channel event names. Outbound events are requests emitted by the
// console; inbound events are pushes or responses emitted by the rig
// controller. Requests and responses are independent events on the same
// channel; nothing correlates them except the save acknowledgment.
const (
	EventGetModuleConfigs  = "get_module_configs"
	EventGetModuleConfig   = "get_module_config"
	EventSaveModuleConfig  = "save_module_config"
	EventModuleConfigsPush = "module_configs_update"

	EventGetControllerConfig      = "get_controller_config"
	EventControllerConfigResponse = "controller_config_response"
	EventSaveControllerConfig     = "save_controller_config"

	EventSaveConfigAck = "save_config_ack"

	EventModuleStatus    = "module_status"
	EventModuleReadiness = "update_module_readiness"
	EventGetModuleHealth = "get_module_health"
	EventModuleHealth    = "module_health_update"
	EventRemoveModule    = "remove_module"

	EventSendCommand    = "send_command"
	EventRecordingsList = "recordings_list"

	EventGetExperimentMetadata     = "get_experiment_metadata"
	EventExperimentMetadata        = "experiment_metadata_response"
	EventUpdateExperimentMetadata  = "update_experiment_metadata"
	EventExperimentMetadataUpdated = "experiment_metadata_updated"
)

// EventFrame is the wire frame exchanged on the rig channel.
type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// GetModuleConfigRequest asks the rig controller for one module's current
// configuration.
type GetModuleConfigRequest struct {
	ModuleID string `json:"module_id"`
}

// SaveModuleConfigRequest persists an edited, filtered configuration
// snapshot for one module. RequestID correlates the acknowledgment.
type SaveModuleConfigRequest struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	Config    ConfigEnvelope `json:"config"`
}

// ConfigEnvelope wraps a filtered snapshot under a config key, matching the
// rig controller's set_config command parameter shape.
type ConfigEnvelope struct {
	Config map[string]any `json:"config"`
}

// SaveControllerConfigRequest persists the controller's own configuration.
type SaveControllerConfigRequest struct {
	RequestID string         `json:"request_id"`
	Config    map[string]any `json:"config"`
}

// SaveConfigAck is the rig controller's acknowledgment of a save request.
type SaveConfigAck struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// ModuleConfigsPush carries the full module snapshot map, keyed by module
// id. Each entry embeds the module's configuration under a config field.
type ModuleConfigsPush struct {
	ModuleConfigs map[string]ModuleSnapshot `json:"module_configs"`
	Error         string                    `json:"error,omitempty"`
}

// ModuleSnapshot is one module's entry in a configs push: identity fields
// plus the raw configuration snapshot. Config stays raw JSON so ingestion
// can preserve the document's key order. Version stamps the snapshot for
// stale-push rejection; controllers that do not stamp send zero.
type ModuleSnapshot struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type,omitempty"`
	Name    string          `json:"name,omitempty"`
	Version int64           `json:"version,omitempty"`
	Config  json.RawMessage `json:"config"`
}

// ControllerConfigResponse carries the controller's own configuration.
type ControllerConfigResponse struct {
	Version int64           `json:"version,omitempty"`
	Config  json.RawMessage `json:"config"`
}

// ModuleStatusPush is a status broadcast for one module.
type ModuleStatusPush struct {
	ModuleID string         `json:"module_id"`
	Status   map[string]any `json:"status"`
}

// ModuleReadinessPush reports a module's readiness checks.
type ModuleReadinessPush struct {
	ModuleID  string         `json:"module_id"`
	Ready     bool           `json:"ready"`
	Timestamp float64        `json:"timestamp,omitempty"`
	Checks    map[string]any `json:"checks,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ModuleHealthPush carries the health map for all modules.
type ModuleHealthPush struct {
	ModuleHealth map[string]any `json:"module_health"`
	Error        string         `json:"error,omitempty"`
}

// ExperimentMetadata is the free-form experiment annotation block kept on
// the controller and edited from the console.
type ExperimentMetadata struct {
	Experiment string `json:"experiment,omitempty"`
	RatID      string `json:"rat_id,omitempty"`
	Strain     string `json:"strain,omitempty"`
	Batch      string `json:"batch,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Trial      string `json:"trial,omitempty"`
}

// ExperimentMetadataResponse is the controller's metadata echo.
type ExperimentMetadataResponse struct {
	Status   string             `json:"status"`
	Metadata ExperimentMetadata `json:"metadata"`
}

// SendCommandRequest is a passthrough rig command: the controller formats
// it as cmd/<module_id> <type> key=value... and forwards it to the module.
// The module id "all" broadcasts, which the controller uses to aggregate
// recording listings.
type SendCommandRequest struct {
	Type     string         `json:"type"`
	ModuleID string         `json:"module_id"`
	Params   map[string]any `json:"params,omitempty"`
}

// RecordingsListPush carries the aggregated recording listings: on-module
// recordings plus the archives already exported off the rig.
type RecordingsListPush struct {
	ModuleRecordings   []map[string]any `json:"module_recordings"`
	ExportedRecordings []map[string]any `json:"exported_recordings"`
	Error              string           `json:"error,omitempty"`
}

// RemoveModuleRequest asks the controller to drop a module registration.
type RemoveModuleRequest struct {
	ID string `json:"id"`
}

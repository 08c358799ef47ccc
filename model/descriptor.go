package model

// Form node kinds emitted by the config form renderer.
const (
	NodeSection = "section"
	NodeField   = "field"
)

// Field input kinds, inferred from the configuration value's kind.
const (
	InputCheckbox = "checkbox"
	InputNumber   = "number"
	InputText     = "text"
)

// FormDescriptor is the resolved configuration form for one module (or the
// controller itself), sent to the frontend.
type FormDescriptor struct {
	ModuleID string              `json:"module_id"`
	Version  int64               `json:"version"`
	Dirty    bool                `json:"dirty"`
	Nodes    []FormNode          `json:"nodes"`
	Pins     *PinPanelDescriptor `json:"pins,omitempty"`
}

// FormNode is a single entry in the rendered form: either an editable field
// or a collapsible section containing child nodes. Path is the dotted field
// path addressing the node inside the configuration snapshot.
type FormNode struct {
	Kind      string     `json:"kind"`
	Label     string     `json:"label"`
	Path      string     `json:"path"`
	Collapsed bool       `json:"collapsed,omitempty"`
	Children  []FormNode `json:"children,omitempty"`
	Input     string     `json:"input,omitempty"`
	Value     any        `json:"value,omitempty"`
}

// PinPanelDescriptor is the rendered dynamic pin sub-structure of a TTL
// module's form.
type PinPanelDescriptor struct {
	AvailableModes []string        `json:"available_modes"`
	Pins           []PinDescriptor `json:"pins"`
}

// PinDescriptor is one rendered pin entry.
type PinDescriptor struct {
	ID     int                  `json:"id"`
	Mode   string               `json:"mode"`
	Fields []PinFieldDescriptor `json:"fields,omitempty"`
}

// PinFieldDescriptor is one mode-specific field on a pin, with its declared
// schema constraints.
type PinFieldDescriptor struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Value any      `json:"value"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// ModuleDescriptor is one connected hardware module as shown in the module
// list.
type ModuleDescriptor struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Ready    bool   `json:"ready"`
	LastSeen string `json:"last_seen,omitempty"`
}

// SaveResponse is returned after a configuration save is acknowledged.
type SaveResponse struct {
	Success  bool   `json:"success"`
	ModuleID string `json:"module_id"`
	Message  string `json:"message,omitempty"`
}

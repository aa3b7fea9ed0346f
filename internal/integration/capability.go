package integration

// Capability describes one invocable action a device supports. Capabilities
// are stateless descriptors enumerated by the owning provider; they are not
// persisted independently.
type Capability struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`

	// Callback names the provider action to invoke. Empty means the
	// capability is informational only.
	Callback string `json:"callback,omitempty"`

	Params []CapabilityParam `json:"params,omitempty"`
}

// CapabilityParam describes one input a capability accepts.
type CapabilityParam struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"` // "string", "int", "bool"
	Required bool   `json:"required,omitempty"`
}

// CapabilityResult is what a capability execution hands back to the caller.
type CapabilityResult struct {
	// Output carries vendor-specific result values (battery level, lock
	// state, ...).
	Output map[string]any `json:"output,omitempty"`

	// DataChanged signals that the provider mutated its profile data bag
	// and the profile should be persisted.
	DataChanged bool `json:"-"`
}

package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Pipeline   PipelineStatus    `json:"pipeline"`
	Subsystems []SubsystemStatus `json:"subsystems"`
	Providers  []ProviderStatus  `json:"providers"`

	// ActiveDegradationFlags lists feature flags currently switching the pipeline to a reduced mode.
	ActiveDegradationFlags []string `json:"activeDegradationFlags,omitempty"`
}

// PipelineStatus describes how grids are currently produced.
type PipelineStatus struct {
	Mode       string `json:"mode"`
	Provider   string `json:"provider"`
	Classifier string `json:"classifier"`
	MaxRadius  int    `json:"maxRadius"`
}

// SubsystemStatus represents the status of a subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the status of an external provider.
type ProviderStatus struct {
	Provider     string       `json:"provider"`
	Stage        string       `json:"stage"`
	Status       HealthStatus `json:"status"`
	CircuitState string       `json:"circuitState"`

	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastLatencyMs       *int64     `json:"lastLatencyMs,omitempty"`
	LastSuccessAt       *Timestamp `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp `json:"lastFailureAt,omitempty"`
	Message             *string    `json:"message,omitempty"`
}

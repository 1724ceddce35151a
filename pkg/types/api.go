package types

import "time"

// Source identifies which routing tier a decision landed on.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceSidecar  Source = "sidecar"
	SourceFallback Source = "fallback"
)

// ModelStatus is a per-model snapshot derived from the backend catalogs.
type ModelStatus struct {
	// Model name as reported by the backend.
	// example: llama3.1:70b
	Name string `json:"name" example:"llama3.1:70b"`
	// Weights are present on local storage.
	// example: true
	Pulled bool `json:"pulled" example:"true"`
	// Model is resident in the serving process right now.
	// example: true
	Loaded bool `json:"loaded" example:"true"`
	// Size of the weights on disk in bytes.
	// example: 39969748992
	SizeBytes int64 `json:"size_bytes,omitempty"`
	// VRAM footprint in bytes when loaded.
	// example: 42949672960
	VRAMBytes int64 `json:"vram_bytes,omitempty"`
	// When the backend will unload the model, if known.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Parameter count string, e.g. "70.6B".
	ParameterSize string `json:"parameter_size,omitempty" example:"70.6B"`
	// Quantization level, e.g. "Q4_K_M".
	Quantization string `json:"quantization,omitempty" example:"Q4_K_M"`
	// Model family, e.g. "llama".
	Family string `json:"family,omitempty" example:"llama"`
}

// GPUReading is a best-effort hardware snapshot. Nil fields mean the probe
// had no answer, which is distinct from a zero reading.
type GPUReading struct {
	// GPU utilization percent, 0-100.
	// example: 37.5
	UtilizationPercent *float64 `json:"utilization_percent,omitempty" example:"37.5"`
	// VRAM currently in use, MB.
	// example: 18432
	VRAMUsedMB *int `json:"vram_used_mb,omitempty" example:"18432"`
	// Total VRAM, MB.
	// example: 24576
	VRAMTotalMB *int `json:"vram_total_mb,omitempty" example:"24576"`
}

// GPUInfo describes one detected GPU device.
type GPUInfo struct {
	// Device name.
	// example: NVIDIA GeForce RTX 4090
	Name string `json:"name" example:"NVIDIA GeForce RTX 4090"`
	// Vendor string: nvidia, amd, apple, or unknown.
	// example: nvidia
	Vendor string `json:"vendor" example:"nvidia"`
	// VRAM capacity in MB, 0 when unknown.
	// example: 24576
	VRAMTotalMB int `json:"vram_total_mb" example:"24576"`
}

// MemoryInfo is a system memory snapshot in MB.
type MemoryInfo struct {
	TotalMB int `json:"total_mb" example:"65536"`
	FreeMB  int `json:"free_mb" example:"20480"`
}

// RouteHints carries the lightweight request heuristics a caller may supply
// to SelectModel. All fields are optional; absent numeric hints count as 0.
type RouteHints struct {
	// Length of the user message in characters.
	// example: 512
	MessageLength int `json:"message_length,omitempty" example:"512"`
	// Number of prior turns in the conversation.
	// example: 4
	ConversationDepth int `json:"conversation_depth,omitempty" example:"4"`
	// Manual escape hatch: route to this model verbatim, skipping all checks.
	ForceModel string `json:"force_model,omitempty"`
}

// RouteDecision is an immutable record of one routing choice.
type RouteDecision struct {
	// Unique decision id for audit correlation.
	// example: 0b05c1f4-9c60-4f4e-8b17-6e1a9a3f2d71
	ID string `json:"id"`
	// Backend model identifier the request should go to.
	// example: llama3.1:70b
	Target string `json:"target" example:"llama3.1:70b"`
	// Which tier the target belongs to.
	// example: primary
	Source Source `json:"source" example:"primary"`
	// Human-readable justification for the choice.
	// example: primary loaded, GPU has capacity
	Reason string `json:"reason" example:"primary loaded, GPU has capacity"`
	// GPU utilization percent at decision time, when a reading existed.
	GPUUtilization *float64 `json:"gpu_utilization,omitempty"`
	// VRAM in use at decision time, MB.
	VRAMUsedMB *int `json:"vram_used_mb,omitempty"`
	// Total VRAM at decision time, MB.
	VRAMTotalMB *int `json:"vram_total_mb,omitempty"`
	// The chosen target was already resident, so no load cost applies.
	TargetWasAlreadyLoaded bool `json:"target_was_already_loaded"`
	// When the decision was made.
	Timestamp time.Time `json:"timestamp"`
}

// ModelReport is ModelStatus plus the name configured for the slot, for
// status displays where the backend name and config name may drift.
type ModelReport struct {
	ModelStatus
	// Name configured for this slot.
	// example: llama3.1:70b
	ConfigName string `json:"config_name" example:"llama3.1:70b"`
}

// GPUReport is the GPU section of StatusResponse.
type GPUReport struct {
	Utilization *float64 `json:"utilization,omitempty"`
	VRAMUsedMB  *int     `json:"vram_used_mb,omitempty"`
	VRAMTotalMB *int     `json:"vram_total_mb,omitempty"`
}

// RoutingReport summarizes routing activity since process start.
type RoutingReport struct {
	// Automatic routing is enabled.
	// example: true
	AutoRoute bool `json:"auto_route" example:"true"`
	// Total decisions made.
	// example: 128
	TotalDecisions uint64 `json:"total_decisions" example:"128"`
	// Decisions that selected the primary model.
	// example: 80
	PrimarySelections uint64 `json:"primary_selections" example:"80"`
	// Decisions that selected the sidecar model.
	// example: 40
	SidecarSelections uint64 `json:"sidecar_selections" example:"40"`
	// Decisions that fell back to the remote target.
	// example: 8
	FallbackSelections uint64 `json:"fallback_selections" example:"8"`
	// Most recent decision, if any.
	LastDecision *RouteDecision `json:"last_decision,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Backend answered the last health check.
	// example: true
	Reachable bool `json:"reachable" example:"true"`
	// Backend version string, empty when never reached.
	// example: 0.5.7
	Version string `json:"version,omitempty" example:"0.5.7"`
	// Primary model slot.
	PrimaryModel ModelReport `json:"primary_model"`
	// Sidecar model slot.
	SidecarModel ModelReport `json:"sidecar_model"`
	// Configured fallback target.
	// example: remote:gpt-4o-mini
	FallbackModel string `json:"fallback_model" example:"remote:gpt-4o-mini"`
	// Hardware snapshot from the last refresh.
	GPU GPUReport `json:"gpu"`
	// Routing counters and last decision.
	Routing RoutingReport `json:"routing"`
	// When the last health check completed (unix seconds, 0 = never).
	// example: 1700000000
	LastHealthCheckUnix int64 `json:"last_health_check_unix" example:"1700000000"`
}

// CompletedRequest is the POST /completed payload: the end-of-request hook.
type CompletedRequest struct {
	// Model that served the finished request.
	// example: llama3.1:70b
	Model string `json:"model" example:"llama3.1:70b"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

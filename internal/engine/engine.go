package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"routerd/internal/backend"
	"routerd/internal/hardware"
	"routerd/pkg/types"
)

// Thresholds below which a request counts as "simple" and may be served by
// the sidecar even when the primary has capacity.
const (
	simpleMessageChars = 200
	simpleDepthTurns   = 3
)

// HealthChecker is the backend capability the engine consumes.
type HealthChecker interface {
	CheckHealth(ctx context.Context) backend.Snapshot
	ModelStatus(name string) types.ModelStatus
	WarmModel(ctx context.Context, name string, ttlMinutes int) bool
}

// HardwareProbe is the hardware capability the engine consumes.
type HardwareProbe interface {
	GPUUtilization(ctx context.Context) *float64
	VRAMUsage(ctx context.Context) *hardware.VRAMUsage
}

// Config is the engine's read-only configuration slice.
type Config struct {
	PrimaryModel        string
	SidecarModel        string
	FallbackModel       string
	KeepAliveMinutes    int
	GPUMemoryThreshold  float64
	HealthCheckInterval time.Duration
	PreloadOnStart      bool
	AutoRoute           bool
}

// routerState is the engine's authoritative mutable view of backend and
// hardware health. Guarded by Engine.mu; exposed only as snapshot copies.
type routerState struct {
	reachable         bool
	version           string
	lastHealthCheckAt time.Time

	primary types.ModelStatus
	sidecar types.ModelStatus
	gpu     types.GPUReading

	lastDecision       *types.RouteDecision
	decisionsTotal     uint64
	primarySelections  uint64
	sidecarSelections  uint64
	fallbackSelections uint64
}

// Engine tracks backend reachability, per-model state and GPU pressure, and
// turns that plus request hints into routing decisions with auditable reasons.
type Engine struct {
	cfg     Config
	backend HealthChecker
	probe   HardwareProbe
	log     zerolog.Logger

	mu    sync.Mutex
	state routerState

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New constructs an Engine. Start must be called to begin the refresh loop.
func New(cfg Config, hc HealthChecker, probe HardwareProbe, log zerolog.Logger) *Engine {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	return &Engine{cfg: cfg, backend: hc, probe: probe, log: log}
}

// Start runs one synchronous health refresh, optionally preloads the primary
// model, then refreshes on the configured interval until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.runMu.Unlock()

	e.RefreshHealth(ctx)

	if e.cfg.PreloadOnStart {
		e.mu.Lock()
		pulled := e.state.primary.Pulled
		e.mu.Unlock()
		if pulled {
			go e.warm(e.cfg.PrimaryModel)
		}
	}

	go func() {
		ticker := time.NewTicker(e.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				e.RefreshHealth(context.Background())
			}
		}
	}()
}

// Stop cancels the refresh loop. Idempotent; calling it before Start is a
// no-op.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
}

// RefreshHealth polls the backend and the hardware probe and stores the
// result. It makes no routing decision and never fails: probe and network
// errors degrade the stored data instead. Overlapping calls race benignly;
// last writer wins.
func (e *Engine) RefreshHealth(ctx context.Context) {
	snap := e.backend.CheckHealth(ctx)
	primary := e.backend.ModelStatus(e.cfg.PrimaryModel)
	sidecar := e.backend.ModelStatus(e.cfg.SidecarModel)

	gpu := types.GPUReading{UtilizationPercent: e.probe.GPUUtilization(ctx)}
	if vram := e.probe.VRAMUsage(ctx); vram != nil {
		used, total := vram.UsedMB, vram.TotalMB
		gpu.VRAMUsedMB = &used
		gpu.VRAMTotalMB = &total
	}

	e.mu.Lock()
	e.state.reachable = snap.Reachable
	e.state.version = snap.Version
	e.state.lastHealthCheckAt = snap.CheckedAt
	e.state.primary = primary
	e.state.sidecar = sidecar
	e.state.gpu = gpu
	e.mu.Unlock()

	observeHealthCheck(snap.Reachable, gpu)
	e.log.Debug().
		Bool("reachable", snap.Reachable).
		Bool("primary_pulled", primary.Pulled).
		Bool("primary_loaded", primary.Loaded).
		Bool("sidecar_pulled", sidecar.Pulled).
		Msg("health refreshed")
}

// SelectModel chooses a routing target for one request. Hints are optional;
// a nil or zero hints value classifies the request as simple. The returned
// decision is immutable and already recorded in the engine's counters.
func (e *Engine) SelectModel(ctx context.Context, hints types.RouteHints) types.RouteDecision {
	// Manual escape hatch: no validation, no refresh, no health checks.
	if hints.ForceModel != "" {
		return e.record(types.SourcePrimary, hints.ForceModel, "forced")
	}

	if !e.cfg.AutoRoute {
		return e.record(types.SourcePrimary, e.cfg.PrimaryModel, "auto-routing disabled")
	}

	e.mu.Lock()
	last := e.state.lastHealthCheckAt
	e.mu.Unlock()
	if time.Since(last) > 2*e.cfg.HealthCheckInterval {
		e.RefreshHealth(ctx)
	}

	e.mu.Lock()
	st := e.state
	e.mu.Unlock()

	if !st.reachable {
		return e.record(types.SourceFallback, e.cfg.FallbackModel, "backend unreachable")
	}

	overloaded := false
	var usedPct float64
	if st.gpu.VRAMUsedMB != nil && st.gpu.VRAMTotalMB != nil && *st.gpu.VRAMTotalMB > 0 {
		ratio := float64(*st.gpu.VRAMUsedMB) / float64(*st.gpu.VRAMTotalMB)
		usedPct = ratio * 100
		overloaded = ratio >= e.cfg.GPUMemoryThreshold
	}
	simple := hints.MessageLength < simpleMessageChars && hints.ConversationDepth < simpleDepthTurns

	switch {
	case st.primary.Pulled && st.primary.Loaded && !overloaded:
		return e.record(types.SourcePrimary, e.cfg.PrimaryModel, "primary loaded, GPU has capacity")
	case st.primary.Pulled && !overloaded && !simple:
		return e.record(types.SourcePrimary, e.cfg.PrimaryModel, "primary available, loading for complex request")
	case st.sidecar.Pulled && overloaded:
		reason := fmt.Sprintf("GPU memory at %.0f%%, threshold %.0f%%, routing to sidecar",
			usedPct, e.cfg.GPUMemoryThreshold*100)
		return e.record(types.SourceSidecar, e.cfg.SidecarModel, reason)
	case st.sidecar.Pulled && simple:
		return e.record(types.SourceSidecar, e.cfg.SidecarModel, "simple request, sidecar is sufficient")
	case st.sidecar.Pulled && st.sidecar.Loaded:
		return e.record(types.SourceSidecar, e.cfg.SidecarModel, "sidecar already warm, fast path")
	case st.primary.Pulled:
		return e.record(types.SourcePrimary, e.cfg.PrimaryModel, "primary available with partial offload")
	case st.sidecar.Pulled:
		return e.record(types.SourceSidecar, e.cfg.SidecarModel, "only sidecar available")
	default:
		return e.record(types.SourceFallback, e.cfg.FallbackModel, "no local models available")
	}
}

// record builds the immutable decision, enriches it with the GPU reading in
// effect, bumps the counters and fires the post-decision keep-alive warm for
// local targets.
func (e *Engine) record(source types.Source, target, reason string) types.RouteDecision {
	e.mu.Lock()
	d := types.RouteDecision{
		ID:        uuid.NewString(),
		Target:    target,
		Source:    source,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if e.state.gpu.UtilizationPercent != nil {
		v := *e.state.gpu.UtilizationPercent
		d.GPUUtilization = &v
	}
	if e.state.gpu.VRAMUsedMB != nil && e.state.gpu.VRAMTotalMB != nil {
		used, total := *e.state.gpu.VRAMUsedMB, *e.state.gpu.VRAMTotalMB
		d.VRAMUsedMB = &used
		d.VRAMTotalMB = &total
	}
	switch target {
	case e.cfg.PrimaryModel:
		d.TargetWasAlreadyLoaded = e.state.primary.Loaded
	case e.cfg.SidecarModel:
		d.TargetWasAlreadyLoaded = e.state.sidecar.Loaded
	}

	e.state.decisionsTotal++
	switch source {
	case types.SourcePrimary:
		e.state.primarySelections++
	case types.SourceSidecar:
		e.state.sidecarSelections++
	case types.SourceFallback:
		e.state.fallbackSelections++
	}
	e.state.lastDecision = &d
	e.mu.Unlock()

	observeDecision(source)
	if source == types.SourceFallback {
		e.log.Info().Str("target", target).Str("reason", reason).Msg("routing to fallback")
	} else {
		e.log.Info().Str("target", target).Str("source", string(source)).Str("reason", reason).Msg("route decided")
		if reason != "forced" {
			go e.warm(target)
		}
	}
	return d
}

// RequestCompleted is the end-of-request hook: it extends the served model's
// keep-alive so hot targets stay warm. Fire-and-forget; never blocks the
// caller's completion path.
func (e *Engine) RequestCompleted(model string) {
	if model == "" {
		return
	}
	go e.warm(model)
}

func (e *Engine) warm(model string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if e.backend.WarmModel(ctx, model, e.cfg.KeepAliveMinutes) {
		e.log.Info().Str("model", model).Int("keep_alive_min", e.cfg.KeepAliveMinutes).Msg("model warmed")
	}
}

// State returns a read-only snapshot of the engine state in the wire shape
// shared by the HTTP and command adapters.
func (e *Engine) State() types.StatusResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := types.StatusResponse{
		Reachable:     e.state.reachable,
		Version:       e.state.version,
		PrimaryModel:  types.ModelReport{ModelStatus: e.state.primary, ConfigName: e.cfg.PrimaryModel},
		SidecarModel:  types.ModelReport{ModelStatus: e.state.sidecar, ConfigName: e.cfg.SidecarModel},
		FallbackModel: e.cfg.FallbackModel,
		Routing: types.RoutingReport{
			AutoRoute:          e.cfg.AutoRoute,
			TotalDecisions:     e.state.decisionsTotal,
			PrimarySelections:  e.state.primarySelections,
			SidecarSelections:  e.state.sidecarSelections,
			FallbackSelections: e.state.fallbackSelections,
		},
	}
	if !e.state.lastHealthCheckAt.IsZero() {
		resp.LastHealthCheckUnix = e.state.lastHealthCheckAt.Unix()
	}
	if e.state.gpu.UtilizationPercent != nil {
		v := *e.state.gpu.UtilizationPercent
		resp.GPU.Utilization = &v
	}
	if e.state.gpu.VRAMUsedMB != nil {
		v := *e.state.gpu.VRAMUsedMB
		resp.GPU.VRAMUsedMB = &v
	}
	if e.state.gpu.VRAMTotalMB != nil {
		v := *e.state.gpu.VRAMTotalMB
		resp.GPU.VRAMTotalMB = &v
	}
	if e.state.lastDecision != nil {
		d := *e.state.lastDecision
		resp.Routing.LastDecision = &d
	}
	return resp
}

// Ready reports whether at least one health check has completed.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.state.lastHealthCheckAt.IsZero()
}

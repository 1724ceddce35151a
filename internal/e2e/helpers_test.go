package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"routerd/internal/backend"
	"routerd/internal/engine"
	"routerd/internal/hardware"
	"routerd/internal/httpapi"
)

// inferenceModel is the wire shape the fake inference backend reports
// in its tags and ps catalogs.
type inferenceModel struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	SizeVRAM int64  `json:"size_vram,omitempty"`
}

// fakeInference is an httptest stand-in for an ollama-style backend.
// Mutations and reads go through mu so tests can flip reachability or
// loaded state while the engine's refresh loop is running.
type fakeInference struct {
	mu        sync.Mutex
	down      bool
	pulled    []inferenceModel
	running   []inferenceModel
	warmCalls []string
}

func (f *fakeInference) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeInference) warmedModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.warmCalls))
	copy(out, f.warmCalls)
	return out
}

func (f *fakeInference) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		down := f.down
		f.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"version": "0.5.7"})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"models": f.pulled})
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"models": f.running})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f.warmCalls = append(f.warmCalls, body.Model)
		json.NewEncoder(w).Encode(map[string]any{"done": true})
	})
	return mux
}

// stubProbe returns fixed hardware readings without shelling out.
type stubProbe struct {
	util *float64
	vram *hardware.VRAMUsage
}

func (s stubProbe) GPUUtilization(ctx context.Context) *float64        { return s.util }
func (s stubProbe) VRAMUsage(ctx context.Context) *hardware.VRAMUsage { return s.vram }

// newStack wires the full daemon in process: fake backend behind a real
// backend.Client, a real engine, and the HTTP mux served by httptest.
func newStack(t *testing.T, fi *fakeInference, probe stubProbe) (*httptest.Server, *engine.Engine) {
	t.Helper()
	backendSrv := httptest.NewServer(fi.handler())
	t.Cleanup(backendSrv.Close)

	client := backend.New(backendSrv.URL, zerolog.Nop())
	eng := engine.New(engine.Config{
		PrimaryModel:        "big:latest",
		SidecarModel:        "small:latest",
		FallbackModel:       "remote:gpt-4o-mini",
		KeepAliveMinutes:    10,
		GPUMemoryThreshold:  0.85,
		HealthCheckInterval: time.Hour, // tests refresh explicitly
		AutoRoute:           true,
	}, client, probe, zerolog.Nop())
	eng.RefreshHealth(context.Background())

	apiSrv := httptest.NewServer(httpapi.NewMux(eng))
	t.Cleanup(apiSrv.Close)
	return apiSrv, eng
}

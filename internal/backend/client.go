package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"routerd/pkg/types"
)

// defaultTimeout bounds every outbound call so an unreachable backend can
// never stall the refresh loop.
const defaultTimeout = 10 * time.Second

// Client polls the inference backend for reachability, version, the pulled
// model catalog and the currently loaded models, and issues best-effort
// keep-alive warm requests. It caches the last snapshot so status displays
// keep working across transient outages.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// Snapshot is the cached result of one health check.
type Snapshot struct {
	Reachable     bool
	Version       string
	PulledModels  []APIModel
	RunningModels []APIModel
	CheckedAt     time.Time
}

// APIModel mirrors one entry of the backend's /api/tags and /api/ps lists.
// The backend may identify a model by either "name" or "model"; both are kept.
type APIModel struct {
	Name      string       `json:"name"`
	Model     string       `json:"model"`
	Size      int64        `json:"size"`
	SizeVRAM  int64        `json:"size_vram"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Details   ModelDetails `json:"details"`
}

// ModelDetails carries the metadata subset we surface in status output.
type ModelDetails struct {
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
	Family            string `json:"family"`
}

type tagsResponse struct {
	Models []APIModel `json:"models"`
}

type psResponse struct {
	Models []APIModel `json:"models"`
}

type versionResponse struct {
	Version string `json:"version"`
}

// New constructs a Client against baseURL (no trailing slash required).
func New(baseURL string, log zerolog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: defaultTimeout,
		log:     log,
	}
	return c
}

// SetTimeout overrides the per-call timeout (tests use short values).
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// CheckHealth performs the three bounded calls (version, tags, ps) and
// atomically replaces the cached snapshot. On any failure the pulled catalog
// is preserved from the previous snapshot while running models are zeroed:
// "loaded" cannot be asserted once the backend is unreachable.
func (c *Client) CheckHealth(ctx context.Context) Snapshot {
	var ver versionResponse
	var tags tagsResponse
	var ps psResponse

	err := c.getJSON(ctx, "/api/version", &ver)
	if err == nil {
		err = c.getJSON(ctx, "/api/tags", &tags)
	}
	if err == nil {
		err = c.getJSON(ctx, "/api/ps", &ps)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Str("backend", c.baseURL).Msg("health check failed")
		c.snap = Snapshot{
			Reachable:     false,
			Version:       c.snap.Version,
			PulledModels:  c.snap.PulledModels,
			RunningModels: nil,
			CheckedAt:     time.Now(),
		}
		return c.snap
	}
	c.snap = Snapshot{
		Reachable:     true,
		Version:       ver.Version,
		PulledModels:  tags.Models,
		RunningModels: ps.Models,
		CheckedAt:     time.Now(),
	}
	return c.snap
}

// LastSnapshot returns the cached snapshot without touching the network.
func (c *Client) LastSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// ModelStatus derives a per-model status from the cached catalogs. An
// unmatched name yields an all-false status, never an error.
func (c *Client) ModelStatus(name string) types.ModelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := types.ModelStatus{Name: name}
	for _, m := range c.snap.PulledModels {
		if modelMatches(m, name) {
			st.Pulled = true
			st.SizeBytes = m.Size
			st.ParameterSize = m.Details.ParameterSize
			st.Quantization = m.Details.QuantizationLevel
			st.Family = m.Details.Family
			break
		}
	}
	for _, m := range c.snap.RunningModels {
		if modelMatches(m, name) {
			st.Loaded = true
			st.VRAMBytes = m.SizeVRAM
			st.ExpiresAt = m.ExpiresAt
			if st.ParameterSize == "" {
				st.ParameterSize = m.Details.ParameterSize
			}
			if st.Quantization == "" {
				st.Quantization = m.Details.QuantizationLevel
			}
			if st.Family == "" {
				st.Family = m.Details.Family
			}
			break
		}
	}
	return st
}

// modelMatches checks both surface identifiers the backend may use for one
// logical model.
func modelMatches(m APIModel, name string) bool {
	return m.Name == name || m.Model == name
}

// WarmModel issues a minimal generation request carrying a keep-alive TTL so
// the backend loads the model (or extends its residency). Best-effort: every
// failure is swallowed and reported as false.
func (c *Client) WarmModel(ctx context.Context, name string, ttlMinutes int) bool {
	body, err := json.Marshal(map[string]any{
		"model":      name,
		"prompt":     "",
		"keep_alive": fmt.Sprintf("%dm", ttlMinutes),
		"stream":     false,
	})
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("model", name).Msg("warm request failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("model", name).Msg("warm request rejected")
		return false
	}
	return true
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"routerd/internal/hardware"
	"routerd/pkg/types"
)

func getStatus(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	resp, err := http.Get(base + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status: %s", resp.Status)
	}
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func postRoute(t *testing.T, base string, hints types.RouteHints) types.RouteDecision {
	t.Helper()
	b, _ := json.Marshal(hints)
	resp, err := http.Post(base+"/route", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST /route: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /route: %s", resp.Status)
	}
	var dec types.RouteDecision
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	return dec
}

func TestE2E_StatusReflectsBackend(t *testing.T) {
	util := 40.0
	fi := &fakeInference{
		pulled: []inferenceModel{
			{Name: "big:latest", Size: 4 << 30},
			{Name: "small:latest", Size: 1 << 30},
		},
		running: []inferenceModel{{Name: "big:latest", SizeVRAM: 5 << 30}},
	}
	base, _ := newStack(t, fi, stubProbe{
		util: &util,
		vram: &hardware.VRAMUsage{UsedMB: 6144, TotalMB: 16384},
	})

	st := getStatus(t, base.URL)
	if !st.Reachable || st.Version != "0.5.7" {
		t.Fatalf("backend state: %+v", st)
	}
	if !st.PrimaryModel.Pulled || !st.PrimaryModel.Loaded {
		t.Fatalf("primary slot: %+v", st.PrimaryModel)
	}
	if !st.SidecarModel.Pulled || st.SidecarModel.Loaded {
		t.Fatalf("sidecar slot: %+v", st.SidecarModel)
	}
	if st.GPU.VRAMUsedMB == nil || *st.GPU.VRAMUsedMB != 6144 {
		t.Fatalf("gpu report: %+v", st.GPU)
	}
	if st.LastHealthCheckUnix == 0 {
		t.Fatalf("expected health check timestamp")
	}
}

func TestE2E_RouteThenCompletedWarmsTarget(t *testing.T) {
	fi := &fakeInference{
		pulled: []inferenceModel{
			{Name: "big:latest", Size: 4 << 30},
			{Name: "small:latest", Size: 1 << 30},
		},
		running: []inferenceModel{{Name: "big:latest", SizeVRAM: 5 << 30}},
	}
	base, _ := newStack(t, fi, stubProbe{vram: &hardware.VRAMUsage{UsedMB: 4096, TotalMB: 16384}})

	dec := postRoute(t, base.URL, types.RouteHints{MessageLength: 900, ConversationDepth: 5})
	if dec.Target != "big:latest" || dec.Source != types.SourcePrimary {
		t.Fatalf("decision: %+v", dec)
	}
	if !dec.TargetWasAlreadyLoaded {
		t.Fatalf("primary was running, expected already-loaded flag")
	}
	if dec.ID == "" || dec.Timestamp.IsZero() {
		t.Fatalf("audit fields missing: %+v", dec)
	}

	b, _ := json.Marshal(types.CompletedRequest{Model: "big:latest"})
	resp, err := http.Post(base.URL+"/completed", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST /completed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /completed: %s", resp.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		warmed := fi.warmedModels()
		found := false
		for _, m := range warmed {
			if m == "big:latest" {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("keep-alive warm never reached backend, calls: %v", warmed)
		}
		time.Sleep(10 * time.Millisecond)
	}

	st := getStatus(t, base.URL)
	if st.Routing.TotalDecisions != 1 || st.Routing.PrimarySelections != 1 {
		t.Fatalf("counters: %+v", st.Routing)
	}
	if st.Routing.LastDecision == nil || st.Routing.LastDecision.ID != dec.ID {
		t.Fatalf("last decision not recorded: %+v", st.Routing.LastDecision)
	}
}

func TestE2E_BackendOutageFallsBackAndRecovers(t *testing.T) {
	fi := &fakeInference{
		pulled: []inferenceModel{
			{Name: "big:latest", Size: 4 << 30},
			{Name: "small:latest", Size: 1 << 30},
		},
		running: []inferenceModel{{Name: "big:latest", SizeVRAM: 5 << 30}},
	}
	base, _ := newStack(t, fi, stubProbe{})

	fi.setDown(true)
	resp, err := http.Post(base.URL+"/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /refresh: %v", err)
	}
	resp.Body.Close()

	dec := postRoute(t, base.URL, types.RouteHints{MessageLength: 900})
	if dec.Source != types.SourceFallback || dec.Target != "remote:gpt-4o-mini" {
		t.Fatalf("expected fallback during outage, got %+v", dec)
	}
	if !strings.Contains(dec.Reason, "unreachable") {
		t.Fatalf("reason: %q", dec.Reason)
	}

	fi.setDown(false)
	resp, err = http.Post(base.URL+"/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /refresh: %v", err)
	}
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode refresh body: %v", err)
	}
	resp.Body.Close()
	if !st.Reachable {
		t.Fatalf("expected recovery after refresh")
	}

	dec = postRoute(t, base.URL, types.RouteHints{MessageLength: 900, ConversationDepth: 4})
	if dec.Source != types.SourcePrimary {
		t.Fatalf("expected primary after recovery, got %+v", dec)
	}
}

func TestE2E_ReadyzFollowsFirstHealthCheck(t *testing.T) {
	fi := &fakeInference{}
	base, _ := newStack(t, fi, stubProbe{})

	resp, err := http.Get(base.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	// newStack runs an initial refresh, so the daemon is ready even though
	// the backend catalog is empty.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /readyz: %s", resp.Status)
	}

	resp, err = http.Get(base.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz: %s", resp.Status)
	}
}

func TestE2E_MetricsExposeDecisionCounters(t *testing.T) {
	fi := &fakeInference{
		pulled:  []inferenceModel{{Name: "big:latest"}, {Name: "small:latest"}},
		running: []inferenceModel{{Name: "big:latest", SizeVRAM: 5 << 30}},
	}
	base, _ := newStack(t, fi, stubProbe{})

	postRoute(t, base.URL, types.RouteHints{MessageLength: 900, ConversationDepth: 4})

	resp, err := http.Get(base.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "routerd_engine_decisions_total") {
		t.Fatalf("decision counter missing from metrics output")
	}
	if !strings.Contains(text, "routerd_http_requests_total") {
		t.Fatalf("http counter missing from metrics output")
	}
}

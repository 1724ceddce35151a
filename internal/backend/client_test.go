package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeBackend serves a minimal version/tags/ps/generate surface.
type fakeBackend struct {
	version   string
	tags      []APIModel
	ps        []APIModel
	warmCalls []map[string]any
	failAll   bool
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		if f.failAll {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"version": f.version})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		if f.failAll {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"models": f.tags})
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		if f.failAll {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"models": f.ps})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.warmCalls = append(f.warmCalls, body)
		if f.failAll {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"done": true})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeBackend) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := New(srv.URL, zerolog.Nop())
	return c, srv
}

func TestCheckHealthSuccess(t *testing.T) {
	f := &fakeBackend{
		version: "0.5.7",
		tags: []APIModel{
			{Name: "big:latest", Size: 4 << 30, Details: ModelDetails{ParameterSize: "70B", QuantizationLevel: "Q4_K_M", Family: "llama"}},
			{Name: "small:latest", Size: 1 << 30},
		},
		ps: []APIModel{{Name: "big:latest", SizeVRAM: 5 << 30}},
	}
	c, _ := newTestClient(t, f)
	snap := c.CheckHealth(context.Background())
	if !snap.Reachable {
		t.Fatalf("expected reachable")
	}
	if snap.Version != "0.5.7" {
		t.Fatalf("version: %q", snap.Version)
	}
	if len(snap.PulledModels) != 2 || len(snap.RunningModels) != 1 {
		t.Fatalf("catalogs: %d pulled %d running", len(snap.PulledModels), len(snap.RunningModels))
	}
	if snap.CheckedAt.IsZero() {
		t.Fatalf("checkedAt not set")
	}
}

func TestCheckHealthFailurePreservesPulledCatalog(t *testing.T) {
	f := &fakeBackend{
		version: "0.5.7",
		tags:    []APIModel{{Name: "big:latest"}},
		ps:      []APIModel{{Name: "big:latest", SizeVRAM: 1 << 30}},
	}
	c, _ := newTestClient(t, f)
	c.CheckHealth(context.Background())

	f.failAll = true
	snap := c.CheckHealth(context.Background())
	if snap.Reachable {
		t.Fatalf("expected unreachable")
	}
	if len(snap.PulledModels) != 1 {
		t.Fatalf("pulled catalog should survive outage, got %d", len(snap.PulledModels))
	}
	if len(snap.RunningModels) != 0 {
		t.Fatalf("running catalog should be zeroed, got %d", len(snap.RunningModels))
	}
}

func TestCheckHealthUnreachableHost(t *testing.T) {
	c := New("http://127.0.0.1:1", zerolog.Nop())
	c.SetTimeout(500 * time.Millisecond)
	snap := c.CheckHealth(context.Background())
	if snap.Reachable {
		t.Fatalf("expected unreachable")
	}
}

func TestModelStatusMatchesEitherIdentifier(t *testing.T) {
	f := &fakeBackend{
		version: "1",
		tags:    []APIModel{{Name: "big:latest", Model: "big", Size: 10}},
		ps:      []APIModel{{Model: "big", SizeVRAM: 20}},
	}
	c, _ := newTestClient(t, f)
	c.CheckHealth(context.Background())

	for _, name := range []string{"big:latest", "big"} {
		st := c.ModelStatus(name)
		if name == "big:latest" && !st.Pulled {
			t.Fatalf("%s: expected pulled", name)
		}
		if name == "big" && (!st.Pulled || !st.Loaded) {
			t.Fatalf("%s: expected pulled+loaded, got %+v", name, st)
		}
	}
	st := c.ModelStatus("big")
	if st.VRAMBytes != 20 {
		t.Fatalf("vram bytes: %d", st.VRAMBytes)
	}
}

func TestModelStatusUnknownName(t *testing.T) {
	c, _ := newTestClient(t, &fakeBackend{version: "1"})
	c.CheckHealth(context.Background())
	st := c.ModelStatus("nope")
	if st.Pulled || st.Loaded || st.SizeBytes != 0 || st.VRAMBytes != 0 {
		t.Fatalf("expected zero status, got %+v", st)
	}
	if st.Name != "nope" {
		t.Fatalf("name should echo the query: %q", st.Name)
	}
}

func TestWarmModel(t *testing.T) {
	f := &fakeBackend{version: "1"}
	c, _ := newTestClient(t, f)
	if !c.WarmModel(context.Background(), "big:latest", 10) {
		t.Fatalf("expected warm success")
	}
	if len(f.warmCalls) != 1 {
		t.Fatalf("expected one generate call, got %d", len(f.warmCalls))
	}
	call := f.warmCalls[0]
	if call["model"] != "big:latest" {
		t.Fatalf("model: %v", call["model"])
	}
	if call["keep_alive"] != "10m" {
		t.Fatalf("keep_alive: %v", call["keep_alive"])
	}
	if call["prompt"] != "" {
		t.Fatalf("prompt should be empty: %v", call["prompt"])
	}
	if call["stream"] != false {
		t.Fatalf("stream should be false: %v", call["stream"])
	}
}

func TestWarmModelFailureReturnsFalse(t *testing.T) {
	f := &fakeBackend{failAll: true}
	c, _ := newTestClient(t, f)
	if c.WarmModel(context.Background(), "big:latest", 10) {
		t.Fatalf("expected warm failure")
	}
	c2 := New("http://127.0.0.1:1", zerolog.Nop())
	c2.SetTimeout(500 * time.Millisecond)
	if c2.WarmModel(context.Background(), "big:latest", 10) {
		t.Fatalf("expected warm failure on unreachable host")
	}
}

func TestLastSnapshotWithoutCheck(t *testing.T) {
	c := New("http://127.0.0.1:1", zerolog.Nop())
	snap := c.LastSnapshot()
	if snap.Reachable || snap.CheckedAt != (time.Time{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

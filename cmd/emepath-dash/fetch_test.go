//nolint:testpackage // white-box tests for the API client
package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"emepath/pkg/agents"
	"emepath/pkg/httpapi"
	"emepath/pkg/queue"
	"emepath/pkg/watcher"
)

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"service":"emepath","version":"1.2.3","paused":false,"running":1}`))
	})
	mux.HandleFunc("GET /agents", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"agents":[{"id":1,"kind":"distill","status":"done","eots":4,"lastNote":"distilled 3 lines"}]}`))
	})
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"jobs":[{"id":"j1","status":"running"}]}`))
	})
	mux.HandleFunc("GET /watch/state", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"watch":{"active":true,"countdownSeconds":0,"step":"idle","targetPort":0}}`))
	})
	mux.HandleFunc("POST /pause", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"paused":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchHealth(t *testing.T) {
	t.Parallel()

	client := newClient(newFakeAPI(t).URL)
	h, err := client.fetchHealth(context.Background())
	if err != nil {
		t.Fatalf("fetchHealth: %v", err)
	}
	if !h.OK || h.Version != "1.2.3" || h.Running != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestFetchAgents(t *testing.T) {
	t.Parallel()

	client := newClient(newFakeAPI(t).URL)
	agents, err := client.fetchAgents(context.Background())
	if err != nil {
		t.Fatalf("fetchAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("agents = %+v, want 1 row", agents)
	}
	a := agents[0]
	if a.ID != 1 || a.Kind != "distill" || a.EOTs != 4 {
		t.Errorf("agent = %+v", a)
	}
}

func TestFetchJobsAndWatch(t *testing.T) {
	t.Parallel()

	client := newClient(newFakeAPI(t).URL)

	jobs, err := client.fetchJobs(context.Background())
	if err != nil {
		t.Fatalf("fetchJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Errorf("jobs = %+v", jobs)
	}

	w, err := client.fetchWatch(context.Background())
	if err != nil {
		t.Fatalf("fetchWatch: %v", err)
	}
	if !w.Active || w.Step != "idle" {
		t.Errorf("watch = %+v", w)
	}
}

// stubWatch feeds a canned snapshot through the real API router.
type stubWatch struct{ st watcher.State }

func (s stubWatch) State() watcher.State { return s.st }

func TestFetchWatchAgainstRealRouter(t *testing.T) {
	t.Parallel()

	api := httpapi.NewServer(queue.New(1, nil), agents.NewRegistry(), nil, stubWatch{st: watcher.State{
		Active:           true,
		CountdownSeconds: 7,
		Step:             watcher.StepRestarting,
	}}, "test")
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	client := newClient(srv.URL)
	w, err := client.fetchWatch(context.Background())
	if err != nil {
		t.Fatalf("fetchWatch: %v", err)
	}
	if !w.Active || w.CountdownSeconds != 7 || w.Step != string(watcher.StepRestarting) {
		t.Errorf("watch = %+v, want the active countdown the router served", w)
	}
}

func TestPausePost(t *testing.T) {
	t.Parallel()

	client := newClient(newFakeAPI(t).URL)
	if err := client.pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
}

func TestFetchOfflineErrors(t *testing.T) {
	t.Parallel()

	client := newClient("http://127.0.0.1:1")
	if _, err := client.fetchHealth(context.Background()); err == nil {
		t.Error("expected error for unreachable API")
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// fetchTimeout bounds one control API round-trip.
const fetchTimeout = 5 * time.Second

// defaultBaseURL returns the control API base URL, honoring EMEPATH_PORT.
func defaultBaseURL() string {
	port := 3123
	if v := os.Getenv("EMEPATH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			port = n
		}
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// HealthInfo mirrors the control API /health payload.
type HealthInfo struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Version string `json:"version"`
	Paused  bool   `json:"paused"`
	Running int    `json:"running"`
}

// AgentRow mirrors one agent in the /agents response.
type AgentRow struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Goal     string `json:"goal"`
	Status   string `json:"status"`
	EOTs     int64  `json:"eots"`
	LastNote string `json:"lastNote"`
}

// JobRow mirrors one job in the /jobs response.
type JobRow struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`
}

// WatchInfo mirrors the /watch/state payload.
type WatchInfo struct {
	Active           bool   `json:"active"`
	CountdownSeconds int    `json:"countdownSeconds"`
	Step             string `json:"step"`
	TargetPort       int    `json:"targetPort"`
}

// apiClient talks to the emepath control API over localhost HTTP.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: fetchTimeout},
	}
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on read path

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close, body unused
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: %s", path, resp.Status)
	}
	return nil
}

func (c *apiClient) fetchHealth(ctx context.Context) (*HealthInfo, error) {
	var h HealthInfo
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *apiClient) fetchAgents(ctx context.Context) ([]AgentRow, error) {
	var reply struct {
		Agents []AgentRow `json:"agents"`
	}
	if err := c.get(ctx, "/agents", &reply); err != nil {
		return nil, err
	}
	if reply.Agents == nil {
		reply.Agents = []AgentRow{}
	}
	return reply.Agents, nil
}

func (c *apiClient) fetchJobs(ctx context.Context) ([]JobRow, error) {
	var reply struct {
		Jobs []JobRow `json:"jobs"`
	}
	if err := c.get(ctx, "/jobs", &reply); err != nil {
		return nil, err
	}
	if reply.Jobs == nil {
		reply.Jobs = []JobRow{}
	}
	return reply.Jobs, nil
}

func (c *apiClient) fetchWatch(ctx context.Context) (*WatchInfo, error) {
	var reply struct {
		Watch WatchInfo `json:"watch"`
	}
	if err := c.get(ctx, "/watch/state", &reply); err != nil {
		return nil, err
	}
	return &reply.Watch, nil
}

func (c *apiClient) pause(ctx context.Context) error  { return c.post(ctx, "/pause") }
func (c *apiClient) resume(ctx context.Context) error { return c.post(ctx, "/resume") }

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaayud/shaayud/internal/bus"
	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/graph"
	"github.com/shaayud/shaayud/internal/ingest"
	"github.com/shaayud/shaayud/internal/journal"
	"github.com/shaayud/shaayud/internal/rules"
	"github.com/shaayud/shaayud/internal/verdict"
)

const testRecord = `{
	"shaayud_id": "u1",
	"fingerprint": {"visitorId": "dev1", "components": {"userAgent": {"value": "Mobile Safari"}}},
	"ip": "1.2.3.4",
	"method": "POST",
	"path": "/x",
	"event_id": "evt-1",
	"timestamp": "2024-03-01T12:00:00Z"
}`

type testEnv struct {
	server  *Server
	store   *graph.MemoryStore
	journal domain.Journal
	bus     *bus.ChannelBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rs, err := rules.New(2, 10, []*rules.Rule{
		{ID: "mobile", When: rules.Eq("device.device_type", "mobile"), Score: 30, Description: "mobile device"},
	})
	if err != nil {
		t.Fatalf("rules.New failed: %v", err)
	}

	j, err := journal.New(domain.JournalConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("journal.New failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })

	store := graph.NewMemoryStore()
	svc := ingest.NewService(rs, graph.NewUpserter(store), verdict.NewClassifier(50, 80), ingest.Config{},
		ingest.WithJournal(j),
	)

	server := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080, MaxBodyBytes: 4096}, Deps{
		Ingester: svc,
		Rules:    rs,
		Journal:  j,
		Bus:      eventBus,
		Checks: []Check{
			{Name: "graph", Ping: store.Ping},
			{Name: "journal", Ping: j.Ping},
		},
		Version: "test-v1",
	})

	return &testEnv{server: server, store: store, journal: j, bus: eventBus}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func TestIngestEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Success", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/ingest", testRecord)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp["status"] != "ok" {
			t.Errorf("expected status ok, got %v", resp)
		}
		if env.store.Commits() != 1 {
			t.Errorf("expected one graph commit, got %d", env.store.Commits())
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request id header")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/ingest", "{not json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingSubject", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/ingest", `{"method":"GET","path":"/","timestamp":"2024-03-01T12:00:00Z"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "shaayud_id") {
			t.Errorf("expected validation message, got %s", rr.Body.String())
		}
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		big := `{"shaayud_id":"` + strings.Repeat("a", 5000) + `"}`
		rr := env.do(http.MethodPost, "/ingest", big)
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})
}

type errIngester struct{ err error }

func (e errIngester) Ingest(context.Context, *domain.IngestInput) error { return e.err }

func TestIngestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Malformed", domain.Malformed("bad"), http.StatusBadRequest},
		{"AdmissionCanceled", domain.ErrAdmissionCanceled, http.StatusServiceUnavailable},
		{"GraphFailure", errors.Join(domain.ErrIngestFailed, &domain.GraphTxError{Phase: domain.PhaseCommit, Err: errors.New("x")}), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(domain.ServerConfig{}, Deps{Ingester: errIngester{tt.err}})
			req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(testRecord))
			rr := httptest.NewRecorder()
			server.Router().ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rr.Code)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(rr.Body.String(), "commit") {
				t.Errorf("graph details leaked to caller: %s", rr.Body.String())
			}
		})
	}
}

func TestIngestAsyncEndpoint(t *testing.T) {
	env := newTestEnv(t)

	queued := make(chan []byte, 1)
	env.bus.Subscribe(context.Background(), domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
		queued <- msg.Payload
		return nil
	})

	t.Run("Accepted", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/ingest/async", testRecord)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		select {
		case payload := <-queued:
			if !strings.Contains(string(payload), `"shaayud_id": "u1"`) {
				t.Errorf("expected raw record on the bus, got %s", payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for queued record")
		}
	})

	t.Run("RejectsInvalidBeforeQueueing", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/ingest/async", `{"shaayud_id":"u1"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NoBus", func(t *testing.T) {
		server := NewServer(domain.ServerConfig{}, Deps{Ingester: errIngester{}})
		req := httptest.NewRequest(http.MethodPost, "/ingest/async", bytes.NewBufferString(testRecord))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestJournalEndpoints(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(http.MethodPost, "/ingest", testRecord); rr.Code != http.StatusOK {
		t.Fatalf("ingest failed: %d %s", rr.Code, rr.Body.String())
	}

	t.Run("EventScores", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/events/evt-1/scores", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			EventID string                `json:"eventId"`
			Scores  []domain.JournalEntry `json:"scores"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.Scores) != 1 || resp.Scores[0].Total != 40 {
			t.Errorf("unexpected scores %+v", resp.Scores)
		}
	})

	t.Run("EventNotFound", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/events/missing/scores", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("IdentityEvents", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/identities/u1/events?limit=5", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 event, got %d", resp.Count)
		}
	})

	t.Run("IdentityEventsBadQuery", func(t *testing.T) {
		for _, q := range []string{"?since=yesterday", "?limit=0", "?limit=abc"} {
			rr := env.do(http.MethodGet, "/identities/u1/events"+q, "")
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", q, rr.Code)
			}
		}
	})
}

func TestRulesEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/rules", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Version int64           `json:"version"`
		Count   int             `json:"count"`
		Rules   []rules.Summary `json:"rules"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Version != 2 || resp.Count != 1 || resp.Rules[0].ID != "mobile" {
		t.Errorf("unexpected rules response %+v", resp)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Health", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/health", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" || resp["version"] != "test-v1" {
			t.Errorf("unexpected health response %v", resp)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/ready", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReady", func(t *testing.T) {
		server := NewServer(domain.ServerConfig{}, Deps{
			Checks: []Check{{Name: "graph", Ping: func(context.Context) error { return errors.New("down") }}},
		})
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/metrics", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "go_goroutines") {
			t.Error("expected Prometheus exposition output")
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/ingest", nil)
		req.Header.Set("Origin", "https://shop.example")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://shop.example" {
			t.Errorf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}

package warehouse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// fakeWarehouse serves the statement API with a scripted status
// sequence per statement.
type fakeWarehouse struct {
	mu        sync.Mutex
	submitted []submitRequest
	statuses  []string
	polls     int
}

func (f *fakeWarehouse) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/statements", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.submitted = append(f.submitted, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /api/v1/statements/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		idx := f.polls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status := f.statuses[idx]
		f.polls++
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(statementStatus{
			StatementID:    r.PathValue("id"),
			Status:         status,
			RuntimeSeconds: 42,
			OutputRows:     100,
		})
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeWarehouse) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestExecuteStepPollsToSuccess(t *testing.T) {
	fake := &fakeWarehouse{statuses: []string{"RUNNING", "RUNNING", "SUCCESS"}}
	client := newTestClient(t, fake)

	step := &types.PlanStep{
		Model: "analytics.orders_daily",
		InputRange: &types.DateRange{
			Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		},
	}
	result, err := client.ExecuteStep(context.Background(), step, "INSERT INTO t SELECT 1")
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	if result.Status != types.RunSuccess {
		t.Errorf("status = %s", result.Status)
	}
	if result.ExternalRunID == "" {
		t.Error("external run id empty")
	}
	if result.Telemetry == nil || result.Telemetry.RuntimeSeconds != 42 {
		t.Errorf("telemetry = %+v", result.Telemetry)
	}
	if len(fake.submitted) != 1 || fake.submitted[0].RangeStart != "2025-06-01" {
		t.Errorf("submitted = %+v", fake.submitted)
	}
}

func TestExecuteStepFailure(t *testing.T) {
	fake := &fakeWarehouse{statuses: []string{"FAILED"}}
	client := newTestClient(t, fake)

	result, err := client.ExecuteStep(context.Background(), &types.PlanStep{Model: "raw.events"}, "SELECT 1")
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	if result.Status != types.RunFailed {
		t.Errorf("status = %s", result.Status)
	}
	if result.Telemetry != nil {
		t.Error("failed run carries telemetry")
	}
}

func TestCheckRunStatus(t *testing.T) {
	fake := &fakeWarehouse{statuses: []string{"SUCCESS"}}
	client := newTestClient(t, fake)

	status, err := client.CheckRunStatus(context.Background(), "stmt-1")
	if err != nil {
		t.Fatalf("CheckRunStatus failed: %v", err)
	}
	if status != "SUCCESS" {
		t.Errorf("status = %s", status)
	}
}

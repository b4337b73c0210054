// Package warehouse submits plan steps to a remote warehouse over its
// statement HTTP API and polls until they reach a terminal state.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fathomdata/trellis/internal/executor"
	"github.com/fathomdata/trellis/internal/types"
)

// Config tunes the client.
type Config struct {
	BaseURL string
	Token   string

	// RequestTimeout bounds each HTTP call, PollInterval the gap
	// between status polls.
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// Client is the warehouse-backed executor.
type Client struct {
	cfg  Config
	http *http.Client
}

var (
	_ executor.Executor      = (*Client)(nil)
	_ executor.StatusChecker = (*Client)(nil)
)

// New returns a Client for the given warehouse endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &types.ValidationError{Field: "base_url", Reason: "warehouse base url is required"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

type submitRequest struct {
	StatementID string `json:"statement_id"`
	SQL         string `json:"sql"`
	Model       string `json:"model"`
	RangeStart  string `json:"range_start,omitempty"`
	RangeEnd    string `json:"range_end,omitempty"`
}

type statementStatus struct {
	StatementID    string  `json:"statement_id"`
	Status         string  `json:"status"`
	ErrorMessage   string  `json:"error_message"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
	ShuffleBytes   int64   `json:"shuffle_bytes"`
	InputRows      int64   `json:"input_rows"`
	OutputRows     int64   `json:"output_rows"`
	PartitionCount int     `json:"partition_count"`
}

// ExecuteStep submits the SQL under a fresh statement id and polls
// until the warehouse reports a terminal status or the context ends.
func (c *Client) ExecuteStep(ctx context.Context, step *types.PlanStep, sqlText string) (*executor.RunResult, error) {
	statementID := uuid.NewString()
	started := time.Now()

	req := submitRequest{
		StatementID: statementID,
		SQL:         sqlText,
		Model:       step.Model,
	}
	if step.InputRange != nil {
		req.RangeStart = step.InputRange.Start.Format(types.DateFormat)
		req.RangeEnd = step.InputRange.End.Format(types.DateFormat)
	}
	if err := c.post(ctx, "/api/v1/statements", req); err != nil {
		return nil, fmt.Errorf("failed to submit statement: %w", err)
	}

	for {
		status, err := c.getStatus(ctx, statementID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll statement %s: %w", statementID, err)
		}
		runStatus := mapStatus(status.Status)
		if runStatus.Terminal() {
			result := &executor.RunResult{
				Status:        runStatus,
				StartedAt:     started,
				FinishedAt:    time.Now(),
				ErrorMessage:  status.ErrorMessage,
				ExternalRunID: statementID,
			}
			if runStatus == types.RunSuccess {
				result.Telemetry = &types.Telemetry{
					ModelName:      step.Model,
					RuntimeSeconds: status.RuntimeSeconds,
					ShuffleBytes:   status.ShuffleBytes,
					InputRows:      status.InputRows,
					OutputRows:     status.OutputRows,
					PartitionCount: status.PartitionCount,
				}
			}
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// CheckRunStatus returns the warehouse's current status string for a
// statement id.
func (c *Client) CheckRunStatus(ctx context.Context, externalRunID string) (string, error) {
	status, err := c.getStatus(ctx, externalRunID)
	if err != nil {
		return "", err
	}
	return status.Status, nil
}

func mapStatus(s string) types.RunStatus {
	switch s {
	case "PENDING", "QUEUED":
		return types.RunPending
	case "RUNNING":
		return types.RunRunning
	case "SUCCESS", "SUCCEEDED":
		return types.RunSuccess
	case "FAILED", "ERROR":
		return types.RunFailed
	case "CANCELLED", "CANCELED":
		return types.RunCancelled
	}
	return types.RunRunning
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("warehouse returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}

func (c *Client) getStatus(ctx context.Context, statementID string) (*statementStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/v1/statements/"+statementID, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &types.NotFoundError{Entity: "statement", ID: statementID}
	}
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("warehouse returned %d: %s", resp.StatusCode, detail)
	}

	var status statementStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}
	return &status, nil
}

package main

import (
	"path/filepath"

	"github.com/fathomdata/trellis/internal/config"
	"github.com/fathomdata/trellis/internal/executor"
	"github.com/fathomdata/trellis/internal/executor/local"
	"github.com/fathomdata/trellis/internal/executor/warehouse"
)

// buildExecutor picks the compute backend: the warehouse client when a
// URL is configured, otherwise the local sandbox. The returned checker
// is nil for the sandbox, which has no external run registry.
func buildExecutor() (executor.Executor, executor.StatusChecker, func() error, error) {
	url := config.GetString("warehouse.url")
	token := config.GetString("warehouse.token")
	if url == "" && proj != nil {
		url, token = proj.Warehouse.URL, proj.Warehouse.Token
	}
	if url != "" {
		client, err := warehouse.New(warehouse.Config{
			BaseURL:        url,
			Token:          token,
			RequestTimeout: config.GetDuration("warehouse.timeout"),
			PollInterval:   config.GetDuration("warehouse.poll-interval"),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return client, client, func() error { return nil }, nil
	}

	m, err := requireProject()
	if err != nil {
		return nil, nil, nil, err
	}
	level := local.Level(config.GetString("sandbox.level"))
	if level == "" {
		level = local.LevelExecute
	}
	sandbox, err := local.New(filepath.Join(m.Root, ".trellis", "sandbox.db"), level, dialect())
	if err != nil {
		return nil, nil, nil, err
	}
	return sandbox, nil, sandbox.Close, nil
}

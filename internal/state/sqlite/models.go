package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

// SaveModels upserts the current catalogue for a tenant in one
// transaction, so a partially written reload is never visible.
func (s *Store) SaveModels(ctx context.Context, tenant string, models []*types.ModelDefinition) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	for _, def := range models {
		if err := def.Validate(); err != nil {
			return err
		}
	}
	now := fmtTime(time.Now())

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		for _, def := range models {
			tags, err := json.Marshal(def.SortedTags())
			if err != nil {
				return fmt.Errorf("failed to encode tags for %s: %w", def.Name, err)
			}
			deps, err := json.Marshal(def.Dependencies)
			if err != nil {
				return fmt.Errorf("failed to encode dependencies for %s: %w", def.Name, err)
			}
			contract, err := json.Marshal(def.ContractColumns)
			if err != nil {
				return fmt.Errorf("failed to encode contract for %s: %w", def.Name, err)
			}
			contractMode := def.ContractMode
			if contractMode == "" {
				contractMode = types.ContractDisabled
			}

			_, err = conn.ExecContext(ctx, `
				INSERT INTO models (
					tenant_id, name, kind, materialization, time_column, unique_key,
					partition_by, incremental_strategy, owner, tags,
					raw_sql, clean_sql, content_hash, dependencies,
					contract_mode, contract_columns, loaded_at, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (tenant_id, name) DO UPDATE SET
					kind = excluded.kind,
					materialization = excluded.materialization,
					time_column = excluded.time_column,
					unique_key = excluded.unique_key,
					partition_by = excluded.partition_by,
					incremental_strategy = excluded.incremental_strategy,
					owner = excluded.owner,
					tags = excluded.tags,
					raw_sql = excluded.raw_sql,
					clean_sql = excluded.clean_sql,
					content_hash = excluded.content_hash,
					dependencies = excluded.dependencies,
					contract_mode = excluded.contract_mode,
					contract_columns = excluded.contract_columns,
					loaded_at = excluded.loaded_at
			`,
				tenant, def.Name, string(def.Kind), string(def.Materialization),
				def.TimeColumn, def.UniqueKey, def.PartitionBy, def.IncrementalStrategy,
				def.Owner, string(tags), def.RawSQL, def.CleanSQL, def.ContentHash,
				string(deps), string(contractMode), string(contract),
				fmtTime(def.LoadedAt), now)
			if err != nil {
				return fmt.Errorf("failed to save model %s: %w", def.Name, err)
			}
		}
		return nil
	})
}

const modelColumns = `name, kind, materialization, time_column, unique_key,
	partition_by, incremental_strategy, owner, tags, raw_sql, clean_sql,
	content_hash, dependencies, contract_mode, contract_columns, loaded_at`

// GetModel returns one model definition or a NotFoundError.
func (s *Store) GetModel(ctx context.Context, tenant, name string) (*types.ModelDefinition, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM models WHERE tenant_id = ? AND name = ?`,
		tenant, name)
	def, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Entity: "model", ID: name}
	}
	return def, err
}

// ListModels returns every model for a tenant, sorted by name.
func (s *Store) ListModels(ctx context.Context, tenant string) ([]*types.ModelDefinition, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+modelColumns+` FROM models WHERE tenant_id = ? ORDER BY name`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ModelDefinition
	for rows.Next() {
		def, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (*types.ModelDefinition, error) {
	var (
		def                          types.ModelDefinition
		kind, mat, mode              string
		tags, deps, contract, loaded string
	)
	err := row.Scan(&def.Name, &kind, &mat, &def.TimeColumn, &def.UniqueKey,
		&def.PartitionBy, &def.IncrementalStrategy, &def.Owner, &tags,
		&def.RawSQL, &def.CleanSQL, &def.ContentHash, &deps, &mode, &contract, &loaded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan model: %w", err)
	}
	def.Kind = types.ModelKind(kind)
	def.Materialization = types.Materialization(mat)
	def.ContractMode = types.ContractMode(mode)
	if err := json.Unmarshal([]byte(tags), &def.Tags); err != nil {
		return nil, &types.IntegrityError{Reason: fmt.Sprintf("malformed tags for model %s", def.Name)}
	}
	if err := json.Unmarshal([]byte(deps), &def.Dependencies); err != nil {
		return nil, &types.IntegrityError{Reason: fmt.Sprintf("malformed dependencies for model %s", def.Name)}
	}
	if err := json.Unmarshal([]byte(contract), &def.ContractColumns); err != nil {
		return nil, &types.IntegrityError{Reason: fmt.Sprintf("malformed contract for model %s", def.Name)}
	}
	if def.LoadedAt, err = parseTime(loaded); err != nil {
		return nil, err
	}
	return &def, nil
}

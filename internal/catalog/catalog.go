// Package catalog loads HTTP-backed tool definitions from the tool_catalog
// table and registers them into a registry. Rows describe remote endpoints;
// the catalog turns each into a proxy tool.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate-ai/toolgate/internal/registry"
	"github.com/toolgate-ai/toolgate/internal/tool"
)

// Store abstracts DB queries for testability.
type Store interface {
	ListEnabled(ctx context.Context) ([]*toolRow, error)
}

type toolRow struct {
	Name        string
	Description sql.NullString
	InputSchema sql.NullString // JSONB as string
	Endpoint    string
	Method      sql.NullString
	TimeoutMs   sql.NullInt64
}

// sqlStore is the real implementation using *sql.DB.
type sqlStore struct {
	db *sql.DB
}

func (s *sqlStore) ListEnabled(ctx context.Context) ([]*toolRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, input_schema, endpoint, method, timeout_ms
		FROM tool_catalog
		WHERE enabled = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-side close

	var out []*toolRow
	for rows.Next() {
		var r toolRow
		if err := rows.Scan(&r.Name, &r.Description, &r.InputSchema, &r.Endpoint, &r.Method, &r.TimeoutMs); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Loader reads the catalog and registers its tools.
type Loader struct {
	store  Store
	logger *zap.Logger
}

// Config configures a Loader.
type Config struct {
	DB     *sql.DB
	Logger *zap.Logger
}

// NewLoader creates a Loader backed by the tool_catalog table.
func NewLoader(cfg Config) *Loader {
	return &Loader{
		store:  &sqlStore{db: cfg.DB},
		logger: cfg.Logger,
	}
}

// newLoaderWithStore creates a Loader with a custom store (for testing).
func newLoaderWithStore(store Store, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

// Load fetches all enabled catalog rows and registers each as an HTTP proxy
// tool. Catalog rows always replace a previous registration, regardless of
// the registry's duplicate behavior, so refreshed definitions win. Rows that
// fail to parse are logged and skipped. Returns the number of tools
// registered.
func (l *Loader) Load(ctx context.Context, reg *registry.Registry) (int, error) {
	rows, err := l.store.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("Load: %w", err)
	}

	registered := 0
	for _, row := range rows {
		t, err := parseRow(row)
		if err != nil {
			l.logger.Warn("skipping invalid catalog row",
				zap.String("tool", row.Name),
				zap.Error(err),
			)
			continue
		}
		if _, err := reg.RegisterReplace(t); err != nil {
			l.logger.Warn("catalog tool rejected by registry",
				zap.String("tool", row.Name),
				zap.Error(err),
			)
			continue
		}
		registered++
	}

	l.logger.Info("catalog loaded",
		zap.Int("rows", len(rows)),
		zap.Int("registered", registered),
	)
	return registered, nil
}

// Run reloads the catalog every interval until ctx is cancelled.
func (l *Loader) Run(ctx context.Context, reg *registry.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Load(ctx, reg); err != nil {
				l.logger.Warn("catalog refresh failed", zap.Error(err))
			}
		}
	}
}

func parseRow(row *toolRow) (*tool.HTTP, error) {
	cfg := tool.HTTPConfig{
		Name:     row.Name,
		Endpoint: row.Endpoint,
	}
	if row.Description.Valid {
		cfg.Description = row.Description.String
	}
	if row.Method.Valid {
		cfg.Method = row.Method.String
	}
	if row.TimeoutMs.Valid && row.TimeoutMs.Int64 > 0 {
		cfg.Timeout = time.Duration(row.TimeoutMs.Int64) * time.Millisecond
	}

	if row.InputSchema.Valid && row.InputSchema.String != "" {
		var schema map[string]any
		if err := json.Unmarshal([]byte(row.InputSchema.String), &schema); err != nil {
			return nil, fmt.Errorf("parseRow: input_schema: %w", err)
		}
		cfg.InputSchema = schema
	}

	return tool.NewHTTP(cfg)
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/pgerror"
)

const (
	projectionsTable = "projections"
)

var ErrProjectionExists = errors.New("projection already exists")

var projectionColumns = []string{
	"name",
	"type",
	"priority",
	"memory",
	"virtual_cores",
	"locality",
	"any_count",
	"hosts",
	"racks",
	"properties",
}

type Config struct {
	User     string `envconfig:"PG_USER"`
	Password string `envconfig:"PG_PASSWORD"`
	Addr     string `envconfig:"PG_ADDR"`
	Port     uint16 `envconfig:"PG_PORT"`
	Database string `envconfig:"PG_DATABASE,default=postgres"`
	MaxConns int    `envconfig:"PG_MAX_CONNS,default=5"`
}

// Repository stores durable projection definitions.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepo(ctx context.Context, cfg Config) (*Repository, error) {
	poolCfg, err := pgxpool.ParseConfig(
		fmt.Sprintf(
			"user=%s password=%s host=%s port=%d dbname=%s sslmode=disable pool_max_conns=%d",
			cfg.User, cfg.Password, cfg.Addr, cfg.Port, cfg.Database, cfg.MaxConns,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Repository{
		db: pool,
	}, nil
}

func (r *Repository) Close() {
	r.db.Close()
}

// GetProjections returns the named definitions, all of them when names is empty.
func (r *Repository) GetProjections(ctx context.Context, names ...string) (map[string]models.ProjectionData, error) {
	query := squirrel.Select(projectionColumns...).
		From(projectionsTable).
		OrderBy("name").
		PlaceholderFormat(squirrel.Dollar)
	if len(names) != 0 {
		query = query.Where(squirrel.Eq{"name": names})
	}
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to create db request: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	result := make(map[string]models.ProjectionData)
	for rows.Next() {
		var (
			row  projectionRow
			name string
		)
		err = rows.Scan(
			&name,
			&row.Type,
			&row.Priority,
			&row.Memory,
			&row.VirtualCores,
			&row.Locality,
			&row.Any,
			&row.Hosts,
			&row.Racks,
			&row.Properties,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan projection: %w", err)
		}
		data, err := row.toModel()
		if err != nil {
			log.Error().Err(err).Msgf("skipping broken projection %s", name)
			continue
		}
		result[name] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read projections: %w", err)
	}
	return result, nil
}

func (r *Repository) CreateProjection(ctx context.Context, name string, data models.ProjectionData) error {
	sql, args, err := insertQuery(name, data).ToSql()
	if err != nil {
		return fmt.Errorf("failed to create db request: %w", err)
	}
	_, err = r.db.Exec(ctx, sql, args...)
	if err != nil {
		constraint, ok := pgerror.GetConstraintName(err)
		if ok && constraint == "projections_pkey" {
			return fmt.Errorf("%w: %s", ErrProjectionExists, name)
		}
		return fmt.Errorf("failed to create projection %s: %w", name, err)
	}
	return nil
}

func (r *Repository) UpsertProjection(ctx context.Context, name string, data models.ProjectionData) error {
	sql, args, err := upsertQuery(name, data).ToSql()
	if err != nil {
		return fmt.Errorf("failed to create db request: %w", err)
	}
	_, err = r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert projection %s: %w", name, err)
	}
	return nil
}

func (r *Repository) DeleteProjection(ctx context.Context, name string) (bool, error) {
	sql, args, err := squirrel.Delete(projectionsTable).
		Where(squirrel.Eq{"name": name}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to create db request: %w", err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete projection %s: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

func insertQuery(name string, data models.ProjectionData) squirrel.InsertBuilder {
	row := newProjectionRow(data)
	return squirrel.Insert(projectionsTable).
		Columns(projectionColumns...).
		Values(
			name,
			row.Type,
			row.Priority,
			row.Memory,
			row.VirtualCores,
			row.Locality,
			row.Any,
			row.Hosts,
			row.Racks,
			row.Properties,
		).
		PlaceholderFormat(squirrel.Dollar)
}

func upsertQuery(name string, data models.ProjectionData) squirrel.InsertBuilder {
	return insertQuery(name, data).Suffix(
		`on conflict (name) do update set
		type = excluded.type,
		priority = excluded.priority,
		memory = excluded.memory,
		virtual_cores = excluded.virtual_cores,
		locality = excluded.locality,
		any_count = excluded.any_count,
		hosts = excluded.hosts,
		racks = excluded.racks,
		properties = excluded.properties,
		updated_at = now()`,
	)
}

type projectionRow struct {
	Type         string
	Priority     *int
	Memory       *int64
	VirtualCores *int
	Locality     *bool
	Any          int
	Hosts        []byte
	Racks        []byte
	Properties   []byte
}

func newProjectionRow(data models.ProjectionData) projectionRow {
	typ := data.Type
	if typ == "" {
		typ = models.ProjectionDefault
	}
	return projectionRow{
		Type:         string(typ),
		Priority:     data.Priority,
		Memory:       data.Memory,
		VirtualCores: data.VirtualCores,
		Locality:     data.Locality,
		Any:          data.Any,
		Hosts:        mustJsonObject(data.Hosts),
		Racks:        mustJsonObject(data.Racks),
		Properties:   mustJsonObject(data.Properties),
	}
}

func (r projectionRow) toModel() (models.ProjectionData, error) {
	data := models.ProjectionData{
		Type:         models.ProjectionType(r.Type),
		Priority:     r.Priority,
		Memory:       r.Memory,
		VirtualCores: r.VirtualCores,
		Locality:     r.Locality,
		Any:          r.Any,
	}
	if err := unmarshalObject(r.Hosts, &data.Hosts); err != nil {
		return models.ProjectionData{}, fmt.Errorf("hosts: %w", err)
	}
	if err := unmarshalObject(r.Racks, &data.Racks); err != nil {
		return models.ProjectionData{}, fmt.Errorf("racks: %w", err)
	}
	if err := unmarshalObject(r.Properties, &data.Properties); err != nil {
		return models.ProjectionData{}, fmt.Errorf("properties: %w", err)
	}
	return data, nil
}

func mustJsonObject[V any](m map[string]V) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	js, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return js
}

// unmarshalObject leaves dst nil for empty objects.
func unmarshalObject[V any](raw []byte, dst *map[string]V) error {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]V
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if len(m) != 0 {
		*dst = m
	}
	return nil
}

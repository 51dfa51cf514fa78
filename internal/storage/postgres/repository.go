package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/pgerror"
	"github.com/Sh00ty/cloud-rollout/internal/storage"
)

const servicesTable = "services"

type Repository struct {
	db *pgxpool.Pool
}

func NewRepo(ctx context.Context, user, password, addr string, port uint16) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(
		fmt.Sprintf(
			"user=%s password=%s host=%s port=%d dbname=postgres sslmode=disable pool_max_conns=15",
			user, password, addr, port,
		),
	)
	if cfg == nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	err = pool.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Repository{
		db: pool,
	}, nil
}

func (r *Repository) Close() {
	r.db.Close()
}

func (r *Repository) CreateService(ctx context.Context, spec models.ServiceSpec) error {
	sql := `
	insert into services (name, artifact, poll_interval, probe_kind, probe_settings,
	probe_interval, required_successes, validation_window, ready_timeout,
	drain_grace, failure_cooldown, created_at)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	_, err := r.db.Exec(ctx, sql,
		spec.Name,
		spec.Artifact,
		spec.PollInterval,
		spec.ProbeKind,
		spec.ProbeSettings,
		spec.ProbeInterval,
		spec.RequiredSuccesses,
		spec.ValidationWindow,
		spec.ReadyTimeout,
		spec.DrainGrace,
		spec.FailureCooldown,
		spec.CreatedAt,
	)
	if err != nil {
		constraint, ok := pgerror.GetConstraintName(err)
		if !ok {
			return fmt.Errorf("failed to create service %s: %w", spec.Name, err)
		}
		switch constraint {
		case "services_pkey":
			return fmt.Errorf("service %s: %w", spec.Name, storage.ErrServiceExists)
		}
		return fmt.Errorf("failed to create service %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repository) DeleteService(ctx context.Context, name string) error {
	tag, err := r.db.Exec(ctx, `delete from services where name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete service %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %s: %w", name, storage.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetService(ctx context.Context, name string) (models.ServiceSpec, error) {
	specs, err := r.GetServices(ctx, []string{name})
	if err != nil {
		return models.ServiceSpec{}, err
	}
	spec, exists := specs[name]
	if !exists {
		return models.ServiceSpec{}, fmt.Errorf("service %s: %w", name, storage.ErrNotFound)
	}
	return spec, nil
}

func (r *Repository) GetServices(ctx context.Context, names []string) (map[string]models.ServiceSpec, error) {
	if len(names) == 0 {
		return nil, nil
	}

	sql, args, err := squirrel.Select(
		"name",
		"artifact",
		"poll_interval",
		"probe_kind",
		"probe_settings",
		"probe_interval",
		"required_successes",
		"validation_window",
		"ready_timeout",
		"drain_grace",
		"failure_cooldown",
		"created_at",
	).From(servicesTable).
		Where(squirrel.Eq{"name": names}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to create db request: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	result := make(map[string]models.ServiceSpec, len(names))
	for rows.Next() {
		spec := models.ServiceSpec{}
		err = rows.Scan(
			&spec.Name,
			&spec.Artifact,
			&spec.PollInterval,
			&spec.ProbeKind,
			&spec.ProbeSettings,
			&spec.ProbeInterval,
			&spec.RequiredSuccesses,
			&spec.ValidationWindow,
			&spec.ReadyTimeout,
			&spec.DrainGrace,
			&spec.FailureCooldown,
			&spec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service spec: %w", err)
		}
		result[spec.Name] = spec
	}
	return result, nil
}

func (r *Repository) ListServices(ctx context.Context) ([]models.ServiceSpec, error) {
	sql := `
	select name, artifact, poll_interval, probe_kind, probe_settings,
	probe_interval, required_successes, validation_window, ready_timeout,
	drain_grace, failure_cooldown, created_at
	from services
	order by name;
	`
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	result := make([]models.ServiceSpec, 0, 100)
	for rows.Next() {
		spec := models.ServiceSpec{}
		err = rows.Scan(
			&spec.Name,
			&spec.Artifact,
			&spec.PollInterval,
			&spec.ProbeKind,
			&spec.ProbeSettings,
			&spec.ProbeInterval,
			&spec.RequiredSuccesses,
			&spec.ValidationWindow,
			&spec.ReadyTimeout,
			&spec.DrainGrace,
			&spec.FailureCooldown,
			&spec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service spec: %w", err)
		}
		result = append(result, spec)
	}
	return result, nil
}

func (r *Repository) UpsertRecord(ctx context.Context, rec models.DeploymentRecord) error {
	sql := `
	insert into deployment_records (service, current_fingerprint, candidate_fingerprint,
	state, last_transition, last_failed, fail_count, cooldown_until, poisoned)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	on conflict (service)
	do update set
		current_fingerprint = excluded.current_fingerprint,
		candidate_fingerprint = excluded.candidate_fingerprint,
		state = excluded.state,
		last_transition = excluded.last_transition,
		last_failed = excluded.last_failed,
		fail_count = excluded.fail_count,
		cooldown_until = excluded.cooldown_until,
		poisoned = excluded.poisoned;
	`
	_, err := r.db.Exec(ctx, sql,
		rec.Service,
		rec.Current,
		rec.Candidate,
		rec.State,
		rec.LastTransition,
		rec.LastFailed,
		rec.FailCount,
		rec.CooldownUntil,
		rec.Poisoned,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert deployment record for %s: %w", rec.Service, err)
	}
	return nil
}

func (r *Repository) GetRecord(ctx context.Context, service string) (models.DeploymentRecord, error) {
	sql := `
	select service, current_fingerprint, candidate_fingerprint, state,
	last_transition, last_failed, fail_count, cooldown_until, poisoned
	from deployment_records
	where service = $1;
	`
	rec := models.DeploymentRecord{}
	err := r.db.QueryRow(ctx, sql, service).Scan(
		&rec.Service,
		&rec.Current,
		&rec.Candidate,
		&rec.State,
		&rec.LastTransition,
		&rec.LastFailed,
		&rec.FailCount,
		&rec.CooldownUntil,
		&rec.Poisoned,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DeploymentRecord{}, fmt.Errorf("record for %s: %w", service, storage.ErrNotFound)
	}
	if err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("failed to get deployment record for %s: %w", service, err)
	}
	return rec, nil
}

func (r *Repository) ListRecords(ctx context.Context) ([]models.DeploymentRecord, error) {
	sql := `
	select service, current_fingerprint, candidate_fingerprint, state,
	last_transition, last_failed, fail_count, cooldown_until, poisoned
	from deployment_records
	order by service;
	`
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	result := make([]models.DeploymentRecord, 0, 100)
	for rows.Next() {
		rec := models.DeploymentRecord{}
		err = rows.Scan(
			&rec.Service,
			&rec.Current,
			&rec.Candidate,
			&rec.State,
			&rec.LastTransition,
			&rec.LastFailed,
			&rec.FailCount,
			&rec.CooldownUntil,
			&rec.Poisoned,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		result = append(result, rec)
	}
	return result, nil
}

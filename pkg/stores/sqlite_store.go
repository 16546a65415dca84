package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/mwm126/anaconda-recipes/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

// ErrNotFound is returned when a plan or run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SavePlan stores a plan together with one row per step.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *engine.BuildPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, target, created_at, recipe_count, external_count, warning_count, plan_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		plan.ID,
		string(plan.Target),
		plan.CreatedAt.UTC(),
		len(plan.Steps),
		len(plan.External),
		len(plan.Warnings),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO plan_steps (plan_id, position, stage, name, version, patches)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			plan.ID,
			step.Position,
			step.Stage,
			step.Recipe.Name,
			step.Recipe.Version,
			len(step.Patches),
		)
		if err != nil {
			return fmt.Errorf("failed to save plan step %s: %w", step.Recipe.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}
	return nil
}

// GetPlan loads a plan by ID
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*engine.BuildPlan, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT plan_json FROM plans WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	plan := &engine.BuildPlan{}
	if err := json.Unmarshal([]byte(data), plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", id, err)
	}
	return plan, nil
}

// ListPlans returns the most recent plans first. A limit <= 0 returns all.
func (s *SQLiteStore) ListPlans(ctx context.Context, limit int) ([]engine.PlanSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target, created_at, recipe_count, external_count, warning_count
		FROM plans
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []engine.PlanSummary{}
	for rows.Next() {
		var p engine.PlanSummary
		var target string
		if err := rows.Scan(&p.ID, &target, &p.CreatedAt, &p.Recipes, &p.External, &p.Warnings); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Target = engine.Platform(target)
		plans = append(plans, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return plans, nil
}

// DeletePlan deletes a plan with its steps and runs
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}

	return nil
}

// FindRecipe lists the stored plans that build the named recipe, newest first.
func (s *SQLiteStore) FindRecipe(ctx context.Context, name string, limit int) ([]RecipeUse, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.target, p.created_at, st.version, st.position, st.stage, st.patches
		FROM plan_steps st
		JOIN plans p ON p.id = st.plan_id
		WHERE st.name = ?
		ORDER BY p.created_at DESC, p.id
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find recipe: %w", err)
	}
	defer rows.Close()

	uses := []RecipeUse{}
	for rows.Next() {
		var u RecipeUse
		var target string
		if err := rows.Scan(&u.PlanID, &target, &u.CreatedAt, &u.Version, &u.Position, &u.Stage, &u.Patches); err != nil {
			return nil, fmt.Errorf("failed to scan plan step: %w", err)
		}
		u.Target = engine.Platform(target)
		uses = append(uses, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan steps: %w", err)
	}

	return uses, nil
}

// RecordRun stores the outcome of a build run
func (s *SQLiteStore) RecordRun(ctx context.Context, run *BuildRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_runs (id, plan_id, status, started_at, duration_ms, built, failed_recipe, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.PlanID,
		string(run.Status),
		run.StartedAt.UTC(),
		run.Duration.Milliseconds(),
		run.Built,
		run.FailedRecipe,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

// ListRuns returns the runs of a plan, oldest first
func (s *SQLiteStore) ListRuns(ctx context.Context, planID string) ([]*BuildRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, status, started_at, duration_ms, built, failed_recipe, error
		FROM build_runs
		WHERE plan_id = ?
		ORDER BY started_at, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*BuildRun{}
	for rows.Next() {
		run := &BuildRun{}
		var status string
		var durationMs int64
		err := rows.Scan(
			&run.ID,
			&run.PlanID,
			&status,
			&run.StartedAt,
			&durationMs,
			&run.Built,
			&run.FailedRecipe,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = RunStatus(status)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

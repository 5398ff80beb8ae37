// Package audit is the append-only relational record of every submit,
// job and release the orchestrator has ever run: a normalized Postgres
// schema reached with raw, parameterized SQL rather than an ORM,
// following the no-ORM database/sql style of a PGStore elsewhere in
// this codebase's lineage. Store satisfies scheduler.AuditSink
// directly, so the scheduler never imports database/sql itself.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/vk/forgegrid/internal/appconfig"
	"github.com/vk/forgegrid/internal/dag"
	"github.com/vk/forgegrid/internal/job"
	"github.com/vk/forgegrid/internal/plan"
	"github.com/vk/forgegrid/internal/scheduler"
)

// Store persists submits, jobs and releases into Postgres.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open *sql.DB. Exposed separately from Open
// so tests can inject a sqlmock-backed DB without a real connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open dials Postgres using cfg's DSN, respecting
// database_connection_timeout for the initial ping. cfg's String/LogValue
// already redact Password, so logging the error below never leaks it.
func Open(ctx context.Context, cfg appconfig.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, &DbError{Op: "open", Err: err}
	}

	timeout := time.Duration(cfg.ConnectionTimeout) * time.Second
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &DbError{Op: "ping", Err: err}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Setup creates every table the store needs, idempotently. No migration
// library is used; the schema is small and additive enough that plain
// CREATE TABLE IF NOT EXISTS covers it.
func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return &DbError{Op: "setup", Err: err}
	}
	return nil
}

// txQuerier is satisfied by both *sql.DB and *sql.Tx, letting the
// upsert helpers run either standalone or inside a transaction.
type txQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertImage(ctx context.Context, q txQuerier, name string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		INSERT INTO images (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	return id, err
}

func upsertPackage(ctx context.Context, q txQuerier, name, version string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		INSERT INTO packages (name, version) VALUES ($1, $2)
		ON CONFLICT (name, version) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name, version).Scan(&id)
	return id, err
}

func upsertEndpoint(ctx context.Context, q txQuerier, name string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		INSERT INTO endpoints (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	return id, err
}

func upsertEnvvar(ctx context.Context, q txQuerier, name, value string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		INSERT INTO envvars (name, value) VALUES ($1, $2)
		ON CONFLICT (name, value) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name, value).Scan(&id)
	return id, err
}

func upsertReleaseStore(ctx context.Context, q txQuerier, storeName string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		INSERT INTO release_stores (store_name) VALUES ($1)
		ON CONFLICT (store_name) DO UPDATE SET store_name = EXCLUDED.store_name
		RETURNING id
	`, storeName).Scan(&id)
	return id, err
}

func upsertArtifact(ctx context.Context, q txQuerier, submitRowID int, path string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		INSERT INTO artifacts (submit_id, path) VALUES ($1, $2)
		ON CONFLICT (submit_id, path) DO UPDATE SET path = EXCLUDED.path
		RETURNING id
	`, submitRowID, path).Scan(&id)
	return id, err
}

// rootNode returns g's single sink node, the one nothing depends on,
// which is the package the submit actually requested. Resolve always
// produces exactly one such node, since every other node is reached as
// a dependency of the requested package; an empty graph yields a nil
// root.
func rootNode(g *dag.Graph) *dag.Node {
	for _, n := range g.Nodes() {
		if len(n.Dependents) == 0 {
			return n
		}
	}
	return nil
}

// RecordSubmitStarted writes the submit row, with its resolved tree and
// topological plan serialized up front, before any job work begins.
// Satisfies scheduler.AuditSink.
func (s *Store) RecordSubmitStarted(ctx context.Context, submitID uuid.UUID, image string, g *dag.Graph) error {
	treeJSON, err := json.Marshal(g)
	if err != nil {
		return &DbError{Op: "record_submit_started", Err: err}
	}
	p, err := plan.Build(g)
	if err != nil {
		return &DbError{Op: "record_submit_started", Err: err}
	}
	planJSON, err := json.Marshal(p)
	if err != nil {
		return &DbError{Op: "record_submit_started", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &DbError{Op: "record_submit_started", Err: err}
	}
	defer tx.Rollback()

	imageID, err := upsertImage(ctx, tx, image)
	if err != nil {
		return &DbError{Op: "record_submit_started", Err: err}
	}

	var pkgID int
	if root := rootNode(g); root != nil {
		pkgID, err = upsertPackage(ctx, tx, root.Name, root.Version)
		if err != nil {
			return &DbError{Op: "record_submit_started", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO submits (uuid, submit_time, requested_image_id, requested_package_id, tree_json, plan_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uuid) DO NOTHING
	`, submitID.String(), time.Now().UTC(), imageID, pkgID, treeJSON, planJSON); err != nil {
		return &DbError{Op: "record_submit_started", Err: err}
	}

	return tx.Commit()
}

// RecordJob writes j's one audit row, now that it has reached a
// terminal state, along with its env set and input/output artifact
// sets. Satisfies scheduler.AuditSink; called exactly once per job by
// the scheduler regardless of whether the job ran, failed, or was
// skipped by the upstream-failure cascade.
func (s *Store) RecordJob(ctx context.Context, submitID uuid.UUID, j *job.Job, rec scheduler.JobRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &DbError{Op: "record_job", Err: err}
	}
	defer tx.Rollback()

	var submitRowID int
	if err := tx.QueryRowContext(ctx, `SELECT id FROM submits WHERE uuid = $1`, submitID.String()).Scan(&submitRowID); err != nil {
		return &DbError{Op: "record_job", Err: err}
	}

	pkgID, err := upsertPackage(ctx, tx, j.PackageName, j.PackageVersion)
	if err != nil {
		return &DbError{Op: "record_job", Err: err}
	}

	var imageID sql.NullInt64
	if rec.Image != "" {
		id, err := upsertImage(ctx, tx, rec.Image)
		if err != nil {
			return &DbError{Op: "record_job", Err: err}
		}
		imageID = sql.NullInt64{Int64: int64(id), Valid: true}
	}

	var endpointID sql.NullInt64
	if rec.EndpointName != "" {
		id, err := upsertEndpoint(ctx, tx, rec.EndpointName)
		if err != nil {
			return &DbError{Op: "record_job", Err: err}
		}
		endpointID = sql.NullInt64{Int64: int64(id), Valid: true}
	}

	var jobRowID int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO jobs (uuid, submit_id, endpoint_id, package_id, image_id, container_hash, script_text, log_text, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (uuid) DO UPDATE SET
			endpoint_id    = EXCLUDED.endpoint_id,
			image_id       = EXCLUDED.image_id,
			container_hash = EXCLUDED.container_hash,
			script_text    = EXCLUDED.script_text,
			log_text       = EXCLUDED.log_text,
			status         = EXCLUDED.status
		RETURNING id
	`, j.ID, submitRowID, endpointID, pkgID, imageID, rec.ContainerID, rec.Script, strings.Join(rec.LogLines, "\n"), j.State().String()).Scan(&jobRowID)
	if err != nil {
		return &DbError{Op: "record_job", Err: err}
	}

	for _, line := range rec.Env {
		name, value := splitEnv(line)
		envID, err := upsertEnvvar(ctx, tx, name, value)
		if err != nil {
			return &DbError{Op: "record_job", Err: err}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO job_envs (job_id, env_id) VALUES ($1, $2)`, jobRowID, envID); err != nil {
			return &DbError{Op: "record_job", Err: err}
		}
	}

	if err := linkArtifacts(ctx, tx, submitRowID, jobRowID, j.ForwardedArtifacts(), "job_input_artifacts"); err != nil {
		return &DbError{Op: "record_job", Err: err}
	}
	if err := linkArtifacts(ctx, tx, submitRowID, jobRowID, j.Artifacts(), "job_output_artifacts"); err != nil {
		return &DbError{Op: "record_job", Err: err}
	}

	return tx.Commit()
}

// linkArtifacts upserts each artifact and links it to jobRowID through
// joinTable, which names job_input_artifacts or job_output_artifacts.
func linkArtifacts(ctx context.Context, tx *sql.Tx, submitRowID, jobRowID int, artifacts []job.Artifact, joinTable string) error {
	for _, a := range artifacts {
		artifactID, err := upsertArtifact(ctx, tx, submitRowID, a.Name)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(`INSERT INTO %s (job_id, artifact_id) VALUES ($1, $2)`, joinTable)
		if _, err := tx.ExecContext(ctx, query, jobRowID, artifactID); err != nil {
			return err
		}
	}
	return nil
}

// RecordRelease writes a release row, linking a promoted artifact to
// the store it was copied into. Called by the filestore package as
// part of a promotion, after the copy itself has succeeded (I7: no row
// is written unless the copy has already landed).
func (s *Store) RecordRelease(ctx context.Context, submitID uuid.UUID, artifactPath, storeName string, releaseTime time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &DbError{Op: "record_release", Err: err}
	}
	defer tx.Rollback()

	var submitRowID int
	if err := tx.QueryRowContext(ctx, `SELECT id FROM submits WHERE uuid = $1`, submitID.String()).Scan(&submitRowID); err != nil {
		return &DbError{Op: "record_release", Err: err}
	}

	artifactID, err := upsertArtifact(ctx, tx, submitRowID, artifactPath)
	if err != nil {
		return &DbError{Op: "record_release", Err: err}
	}
	storeID, err := upsertReleaseStore(ctx, tx, storeName)
	if err != nil {
		return &DbError{Op: "record_release", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO releases (artifact_id, release_date, release_store_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (artifact_id, release_date) DO NOTHING
	`, artifactID, releaseTime, storeID); err != nil {
		return &DbError{Op: "record_release", Err: err}
	}

	return tx.Commit()
}

// splitEnv splits a "NAME=VALUE" container env line into its two parts.
func splitEnv(line string) (name, value string) {
	name, value, _ = strings.Cut(line, "=")
	return name, value
}

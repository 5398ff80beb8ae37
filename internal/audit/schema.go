package audit

// schemaSQL creates the normalized lookup-table schema: one row per
// distinct image/package/endpoint/envvar/githash/release store, joined
// by surrogate integer ids, plus the submits/jobs/artifacts/releases
// tables that reference them. Separate join tables distinguish a job's
// input artifacts from its output artifacts, since a single
// job_id-keyed artifacts table cannot tell the two apart.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS images (
	id   SERIAL PRIMARY KEY,
	name VARCHAR NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS packages (
	id      SERIAL PRIMARY KEY,
	name    VARCHAR NOT NULL,
	version VARCHAR NOT NULL,
	UNIQUE (name, version)
);

CREATE TABLE IF NOT EXISTS endpoints (
	id   SERIAL PRIMARY KEY,
	name VARCHAR NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS envvars (
	id    SERIAL PRIMARY KEY,
	name  VARCHAR NOT NULL,
	value VARCHAR NOT NULL,
	UNIQUE (name, value)
);

CREATE TABLE IF NOT EXISTS githashes (
	id   SERIAL PRIMARY KEY,
	hash VARCHAR NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS release_stores (
	id         SERIAL PRIMARY KEY,
	store_name VARCHAR NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS submits (
	id                    SERIAL PRIMARY KEY,
	uuid                  VARCHAR NOT NULL UNIQUE,
	submit_time           TIMESTAMPTZ NOT NULL,
	requested_image_id    INTEGER NOT NULL REFERENCES images(id),
	requested_package_id  INTEGER NOT NULL REFERENCES packages(id),
	repo_hash_id          INTEGER REFERENCES githashes(id),
	tree_json             JSONB NOT NULL,
	plan_json             JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS submit_envs (
	id        SERIAL PRIMARY KEY,
	submit_id INTEGER NOT NULL REFERENCES submits(id),
	env_id    INTEGER NOT NULL REFERENCES envvars(id)
);

CREATE TABLE IF NOT EXISTS jobs (
	id             SERIAL PRIMARY KEY,
	uuid           VARCHAR NOT NULL UNIQUE,
	submit_id      INTEGER NOT NULL REFERENCES submits(id),
	endpoint_id    INTEGER REFERENCES endpoints(id),
	package_id     INTEGER NOT NULL REFERENCES packages(id),
	image_id       INTEGER REFERENCES images(id),
	container_hash VARCHAR NOT NULL DEFAULT '',
	script_text    TEXT NOT NULL DEFAULT '',
	log_text       TEXT NOT NULL DEFAULT '',
	status         VARCHAR NOT NULL
);

CREATE TABLE IF NOT EXISTS job_envs (
	id     SERIAL PRIMARY KEY,
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	env_id INTEGER NOT NULL REFERENCES envvars(id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id        SERIAL PRIMARY KEY,
	path      VARCHAR NOT NULL,
	submit_id INTEGER NOT NULL REFERENCES submits(id),
	UNIQUE (submit_id, path)
);

CREATE TABLE IF NOT EXISTS job_input_artifacts (
	id          SERIAL PRIMARY KEY,
	job_id      INTEGER NOT NULL REFERENCES jobs(id),
	artifact_id INTEGER NOT NULL REFERENCES artifacts(id)
);

CREATE TABLE IF NOT EXISTS job_output_artifacts (
	id          SERIAL PRIMARY KEY,
	job_id      INTEGER NOT NULL REFERENCES jobs(id),
	artifact_id INTEGER NOT NULL REFERENCES artifacts(id)
);

CREATE TABLE IF NOT EXISTS releases (
	id               SERIAL PRIMARY KEY,
	artifact_id      INTEGER NOT NULL REFERENCES artifacts(id),
	release_date     TIMESTAMPTZ NOT NULL,
	release_store_id INTEGER NOT NULL REFERENCES release_stores(id),
	UNIQUE (artifact_id, release_date)
);
`

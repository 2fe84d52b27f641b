package postgres

// schema is executed once at open time, idempotent throughout so opening an
// already-initialised database is a no-op. memories.search_vector is a
// generated tsvector column (content/summary/keywords/tags/context) backed
// by a GIN index, the postgres-native analogue of sqlite's FTS5 virtual
// table + triggers. memory_vectors.embedding starts as an unconstrained
// pgvector `vector` column; InitDimension fixes its typmod the first time a
// dimension is recorded, mirroring sqlite's metadata-row approach but with
// the dimension also enforced by the column type itself.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	namespace        TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	summary          TEXT NOT NULL DEFAULT '',
	keywords         TEXT[],
	tags             TEXT[],
	context          TEXT NOT NULL DEFAULT '',
	memory_type      TEXT NOT NULL,
	importance       INTEGER NOT NULL DEFAULT 5,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	expires_at       TIMESTAMPTZ,
	is_archived      BOOLEAN NOT NULL DEFAULT FALSE,
	superseded_by    TEXT,
	embedding_model  TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	created_by       TEXT NOT NULL DEFAULT '',
	modified_by      TEXT NOT NULL DEFAULT '',
	visible_to       TEXT[],
	search_vector    TSVECTOR GENERATED ALWAYS AS (
		setweight(to_tsvector('english', coalesce(content, '')), 'A') ||
		setweight(to_tsvector('english', coalesce(summary, '')), 'B') ||
		setweight(to_tsvector('english', coalesce(array_to_string(keywords, ' '), '')), 'B') ||
		setweight(to_tsvector('english', coalesce(array_to_string(tags, ' '), '')), 'C') ||
		setweight(to_tsvector('english', coalesce(context, '')), 'D')
	) STORED
);

CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_archived ON memories(is_archived);
CREATE INDEX IF NOT EXISTS idx_memories_last_accessed ON memories(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_memories_search_vector ON memories USING GIN(search_vector);

CREATE TABLE IF NOT EXISTS memory_links (
	id                 TEXT PRIMARY KEY,
	source_id          TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target_id          TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	link_type          TEXT NOT NULL,
	strength           DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	reason             TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	last_traversed_at  TIMESTAMPTZ,
	traversal_count    INTEGER NOT NULL DEFAULT 0,
	user_created       BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE(source_id, target_id, link_type)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON memory_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);
CREATE INDEX IF NOT EXISTS idx_links_traversed ON memory_links(last_traversed_at);

CREATE TABLE IF NOT EXISTS memory_vectors (
	memory_id  TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	embedding  vector,
	model      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         BIGSERIAL PRIMARY KEY,
	timestamp  TIMESTAMPTZ NOT NULL,
	operation  TEXT NOT NULL,
	memory_id  TEXT NOT NULL,
	metadata   JSONB
);

CREATE INDEX IF NOT EXISTS idx_audit_memory ON audit_log(memory_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);

CREATE TABLE IF NOT EXISTS memory_modification_log (
	id                BIGSERIAL PRIMARY KEY,
	memory_id         TEXT NOT NULL,
	agent_role        TEXT NOT NULL DEFAULT '',
	modification_kind TEXT NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL,
	change_payload    JSONB
);

CREATE INDEX IF NOT EXISTS idx_modlog_memory ON memory_modification_log(memory_id);
CREATE INDEX IF NOT EXISTS idx_modlog_agent ON memory_modification_log(agent_role);

-- metadata holds process-wide singletons: the fixed embedding dimension and
-- evolution/co-access checkpoints keyed "checkpoint:<name>".
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

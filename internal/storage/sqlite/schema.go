package sqlite

// schema is executed once at open time. It is idempotent (IF NOT EXISTS
// throughout) so opening an existing database is a no-op beyond the pragmas
// already set by openStore.
//
// memories_fts mirrors content/summary/keywords/tags/context for full-text
// search (storage owns the mirror; nothing outside Store writes to it
// directly). The triggers only fire INSERT/UPDATE on the columns that feed
// the index, keeping unrelated updates (access_count, decay bookkeeping)
// off the FTS write path.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	namespace        TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	summary          TEXT NOT NULL DEFAULT '',
	keywords         TEXT,
	tags             TEXT,
	context          TEXT NOT NULL DEFAULT '',
	memory_type      TEXT NOT NULL,
	importance       INTEGER NOT NULL DEFAULT 5,
	confidence       REAL NOT NULL DEFAULT 0.5,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMP,
	expires_at       TIMESTAMP,
	is_archived      INTEGER NOT NULL DEFAULT 0,
	superseded_by    TEXT,
	embedding_model  TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	created_by       TEXT NOT NULL DEFAULT '',
	modified_by      TEXT NOT NULL DEFAULT '',
	visible_to       TEXT
);

CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_archived ON memories(is_archived);
CREATE INDEX IF NOT EXISTS idx_memories_last_accessed ON memories(last_accessed_at);

CREATE TABLE IF NOT EXISTS memory_links (
	id                 TEXT PRIMARY KEY,
	source_id          TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target_id          TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	link_type          TEXT NOT NULL,
	strength           REAL NOT NULL DEFAULT 0.5,
	reason             TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	last_traversed_at  TIMESTAMP,
	traversal_count    INTEGER NOT NULL DEFAULT 0,
	user_created       INTEGER NOT NULL DEFAULT 0,
	UNIQUE(source_id, target_id, link_type)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON memory_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);
CREATE INDEX IF NOT EXISTS idx_links_traversed ON memory_links(last_traversed_at);

CREATE TABLE IF NOT EXISTS memory_vectors (
	memory_id  TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	embedding  BLOB NOT NULL,
	model      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content, summary, keywords, tags, context,
	content='memories', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content, summary, keywords, tags, context)
	VALUES (new.rowid, new.content, new.summary, new.keywords, new.tags, new.context);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content, summary, keywords, tags, context)
	VALUES ('delete', old.rowid, old.content, old.summary, old.keywords, old.tags, old.context);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories
WHEN old.content IS NOT new.content
	OR old.summary IS NOT new.summary
	OR old.keywords IS NOT new.keywords
	OR old.tags IS NOT new.tags
	OR old.context IS NOT new.context
BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content, summary, keywords, tags, context)
	VALUES ('delete', old.rowid, old.content, old.summary, old.keywords, old.tags, old.context);
	INSERT INTO memories_fts(rowid, content, summary, keywords, tags, context)
	VALUES (new.rowid, new.content, new.summary, new.keywords, new.tags, new.context);
END;

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  TIMESTAMP NOT NULL,
	operation  TEXT NOT NULL,
	memory_id  TEXT NOT NULL,
	metadata   TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_memory ON audit_log(memory_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);

CREATE TABLE IF NOT EXISTS memory_modification_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id         TEXT NOT NULL,
	agent_role        TEXT NOT NULL DEFAULT '',
	modification_kind TEXT NOT NULL,
	timestamp         TIMESTAMP NOT NULL,
	change_payload    TEXT
);

CREATE INDEX IF NOT EXISTS idx_modlog_memory ON memory_modification_log(memory_id);
CREATE INDEX IF NOT EXISTS idx_modlog_agent ON memory_modification_log(agent_role);

-- metadata holds process-wide singletons: the fixed embedding dimension
-- (set once at first InitDimension call) and evolution checkpoints keyed
-- "checkpoint:<name>".
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

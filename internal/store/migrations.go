package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create games and sources",
		SQL: `
			CREATE TABLE games (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				name        TEXT NOT NULL,
				model       TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE sources (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				game_id      INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
				name         TEXT NOT NULL,
				description  TEXT NOT NULL DEFAULT '',
				text_content TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_sources_game ON sources (game_id);
		`,
	},
	{
		Version: 2,
		Name:    "create notes with FTS5",
		SQL: `
			CREATE TABLE notes (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				game_id     INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
				title       TEXT NOT NULL DEFAULT '',
				note_type   TEXT NOT NULL DEFAULT 'note',
				content     TEXT NOT NULL DEFAULT '',
				stats       TEXT,
				actions     TEXT,
				history     TEXT,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_notes_game ON notes (game_id);
			CREATE INDEX idx_notes_type ON notes (game_id, note_type);

			CREATE VIRTUAL TABLE notes_fts USING fts5(
				title,
				content,
				content='notes',
				content_rowid='id'
			);

			CREATE TRIGGER notes_ai AFTER INSERT ON notes BEGIN
				INSERT INTO notes_fts(rowid, title, content)
				VALUES (new.id, new.title, new.content);
			END;

			CREATE TRIGGER notes_ad AFTER DELETE ON notes BEGIN
				INSERT INTO notes_fts(notes_fts, rowid, title, content)
				VALUES ('delete', old.id, old.title, old.content);
			END;

			CREATE TRIGGER notes_au AFTER UPDATE ON notes BEGIN
				INSERT INTO notes_fts(notes_fts, rowid, title, content)
				VALUES ('delete', old.id, old.title, old.content);
				INSERT INTO notes_fts(rowid, title, content)
				VALUES (new.id, new.title, new.content);
			END;
		`,
	},
	{
		Version: 3,
		Name:    "create note images",
		SQL: `
			CREATE TABLE note_images (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				note_id      INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
				content_type TEXT NOT NULL,
				data         BLOB NOT NULL,
				created_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_note_images_note ON note_images (note_id);
		`,
	},
	{
		Version: 4,
		Name:    "create agent history and plan",
		SQL: `
			CREATE TABLE agent_messages (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				game_id       INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
				role          TEXT NOT NULL,
				content       TEXT NOT NULL,
				tool_calls    TEXT,
				tool_call_id  TEXT NOT NULL DEFAULT '',
				timestamp     TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_agent_messages_game ON agent_messages (game_id, id);

			CREATE TABLE agent_plans (
				game_id     INTEGER PRIMARY KEY REFERENCES games(id) ON DELETE CASCADE,
				plan        TEXT NOT NULL DEFAULT '[]',
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
}

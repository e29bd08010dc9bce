package store

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create kv entries",
		SQL: `
			CREATE TABLE kv_entries (
				key         TEXT PRIMARY KEY,
				value       TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "keep replaced kv values",
		SQL: `
			CREATE TABLE kv_history (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				key          TEXT NOT NULL,
				value        TEXT NOT NULL,
				written_at   TEXT NOT NULL,
				replaced_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_kv_history_key ON kv_history (key, id);

			CREATE TRIGGER kv_entries_au AFTER UPDATE OF value ON kv_entries
			WHEN old.value IS NOT new.value BEGIN
				INSERT INTO kv_history (key, value, written_at)
				VALUES (old.key, old.value, old.updated_at);
			END;

			CREATE TRIGGER kv_entries_ad AFTER DELETE ON kv_entries BEGIN
				INSERT INTO kv_history (key, value, written_at)
				VALUES (old.key, old.value, old.updated_at);
			END;
		`,
	},
}

package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dudufisio/fisioflow/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.Equal(t, MemoryPath, db.Path())

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	err := db.migrate()
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_KVTableExists(t *testing.T) {
	db := testDB(t)

	var name string
	err := db.sql.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", "kv_entries",
	).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "kv_entries", name)
}

// --- KV adapter tests, run against every adapter ---

func adapters(t *testing.T) map[string]KV {
	return map[string]KV{
		"sqlite": NewSQLiteKV(testDB(t)),
		"memory": NewMemoryKV(),
	}
}

func TestKV_GetMissing(t *testing.T) {
	for name, kv := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			v, ok, err := kv.Get("economic-ai.settings")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, v)
		})
	}
}

func TestKV_SetGet(t *testing.T) {
	for name, kv := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set("k", `{"defaultProvider":"xai"}`))

			v, ok, err := kv.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"defaultProvider":"xai"}`, v)
		})
	}
}

func TestKV_SetOverwrites(t *testing.T) {
	for name, kv := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set("k", "first"))
			require.NoError(t, kv.Set("k", "second"))

			v, _, err := kv.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "second", v)
		})
	}
}

func TestKV_Delete(t *testing.T) {
	for name, kv := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set("k", "v"))
			require.NoError(t, kv.Delete("k"))

			_, ok, err := kv.Get("k")
			require.NoError(t, err)
			assert.False(t, ok)

			// absent keys are fine
			assert.NoError(t, kv.Delete("never-set"))
		})
	}
}

func TestKV_EmptyValue(t *testing.T) {
	for name, kv := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set("k", ""))

			v, ok, err := kv.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Empty(t, v)
		})
	}
}

func TestKV_ConcurrentWrites(t *testing.T) {
	for name, kv := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, kv.Set("k", "v"))
					_, _, err := kv.Get("k")
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			v, ok, err := kv.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v)
		})
	}
}

func TestSQLiteKV_UpdatedAt(t *testing.T) {
	kv := NewSQLiteKV(testDB(t))

	_, ok, err := kv.UpdatedAt("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("k", "v"))
	ts, ok, err := kv.UpdatedAt("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestSQLiteKV_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "settings.db")
	log := logging.New(nil, "silent")

	db, err := Open(path, log)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteKV(db).Set("k", "persisted"))
	require.NoError(t, db.Close())

	db, err = Open(path, log)
	require.NoError(t, err)
	defer db.Close()

	v, ok, err := NewSQLiteKV(db).Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", v)
}

func TestSQLiteKV_History(t *testing.T) {
	kv := NewSQLiteKV(testDB(t))

	hist, err := kv.History("economic-ai.settings", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)

	require.NoError(t, kv.Set("economic-ai.settings", `{"defaultProvider":"xai"}`))
	require.NoError(t, kv.Set("economic-ai.settings", `{"defaultProvider":"xai"}`))
	require.NoError(t, kv.Set("economic-ai.settings", `{"defaultProvider":"openai"}`))
	require.NoError(t, kv.Delete("economic-ai.settings"))
	require.NoError(t, kv.Set("other", "x"))

	hist, err = kv.History("economic-ai.settings", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2, "identical rewrites are not recorded")
	assert.Equal(t, `{"defaultProvider":"openai"}`, hist[0].Value)
	assert.Equal(t, `{"defaultProvider":"xai"}`, hist[1].Value)
	assert.False(t, hist[0].ReplacedAt.IsZero())

	hist, err = kv.History("economic-ai.settings", 1)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

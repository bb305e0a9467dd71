// Package persist backs cells with a key/value storage.
//
// A persist.Cell embeds a state.Cell, so it can be tracked by derived cells
// and stored in a state.Family like any other cell:
//
//	storage := persist.NewMemoryStorage()
//	cart := persist.New(storage, "cart:42", Cart{})
//	total := state.NewDerived(func(t *state.Tracker) int {
//	    return state.Track[Cart](t, cart).Total()
//	})
//
// Values are stored as Records: the JSON-encoded value, a schema version and
// a last-modified timestamp. Newer timestamps win when a stored record and a
// local write race. Records written with another version are passed to the
// cell's Migrator.
//
// # Backends
//
//   - MemoryStorage: in-process, watchable
//   - RedisStorage: go-redis, watchable through pub/sub
//   - SQLStorage: database/sql (SQLite or PostgreSQL)
//   - S3Storage: one object per key
package persist

package persist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
)

// Storage is a key/value backend for persistent cells.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the record stored under key.
	// Returns (nil, nil) if the key doesn't exist.
	Get(ctx context.Context, key string) (*Record, error)

	// Set stores rec under key, replacing any existing record.
	Set(ctx context.Context, key string, rec Record) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the storage.
	Close() error
}

// WatchFunc receives changes made to a storage. next is nil when the key
// was deleted.
type WatchFunc func(key string, next *Record)

// Watcher is implemented by storages that can report changes, including
// changes made by other processes.
type Watcher interface {
	// Watch calls fn for every change until stop is called or ctx is done.
	Watch(ctx context.Context, fn WatchFunc) (stop func(), err error)
}

// Record is the stored form of a cell value.
type Record struct {
	// Value is the JSON encoding of the cell value.
	Value json.RawMessage `json:"value"`

	// Version is the schema version the value was written with.
	Version string `json:"version,omitempty"`

	// LastModified is the write time in Unix milliseconds.
	LastModified int64 `json:"lastModified"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r.Value != nil {
		r.Value = append(json.RawMessage(nil), r.Value...)
	}
	return r
}

// EncodeRecord returns the wire form of rec used by byte-oriented backends.
func EncodeRecord(rec Record) ([]byte, error) {
	return sonic.Marshal(rec)
}

// DecodeRecord parses data written by EncodeRecord.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// nowMillis is the clock used for LastModified.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// ErrStoreClosed is returned when operations are attempted on a closed storage.
type ErrStoreClosed struct{}

func (e ErrStoreClosed) Error() string {
	return "persist: storage is closed"
}

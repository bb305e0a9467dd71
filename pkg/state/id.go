package state

import (
	"strconv"
	"sync/atomic"
)

// idCounter is the source of ids for anonymous cell names.
var idCounter uint64

// nextID returns the next unique id. IDs are monotonically increasing and
// never reused.
func nextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// anonymousName returns a process-unique name such as "derived-12".
func anonymousName(kind string) string {
	return kind + "-" + strconv.FormatUint(nextID(), 10)
}

// Package live exposes a family of cells over HTTP and websockets.
//
// Each family member is addressed by its key. Reads and writes are plain
// JSON requests; a watch connection receives the current value and then
// every committed change:
//
//	cells := state.NewFamily(func(key string) state.State[any] {
//	    return state.New[any](nil, state.WithName("cell:"+key))
//	})
//	h := live.NewHandler(cells, live.WithLogger(logger))
//	defer h.Close()
//	http.ListenAndServe(":8080", h)
//
// A watch client may write the cell by sending {"type":"set","value":...}.
// Malformed client messages are answered with an error message and the
// connection stays open.
package live

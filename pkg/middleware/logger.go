package middleware

import (
	"context"
	"log/slog"

	"github.com/vango-dev/sharedstate/pkg/state"
)

// Logger subscribes to src and logs every change at level with the cell
// name, next and previous values. A nil logger uses slog.Default().
// The returned function removes the subscription.
//
//	stop := middleware.Logger(logger, slog.LevelDebug, count)
//	defer stop()
func Logger[T any](logger *slog.Logger, level slog.Level, src state.Source[T]) state.Unsubscribe {
	if logger == nil {
		logger = slog.Default()
	}
	name := ""
	if n, ok := src.(interface{ Name() string }); ok {
		name = n.Name()
	}
	logger = logger.With("component", "state", "cell", name)

	return src.Subscribe(state.NewHandler(func(next, prev T) {
		logger.Log(context.Background(), level, "cell changed", "next", next, "prev", prev)
	}))
}

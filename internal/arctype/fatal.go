package arctype

import (
	"log/slog"
)

// FatalHandler receives fatal errors escalated by a component. A handler
// that returns lets the component drop the failed unit of work and carry on.
type FatalHandler func(err error)

// PanicOnFatal returns a FatalHandler that logs err at error level and then
// panics, terminating the process unless the caller recovers.
func PanicOnFatal(logger *slog.Logger) FatalHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(err error) {
		attrs := []any{"error", err}
		if fe, ok := AsFatal(err); ok {
			attrs = append(attrs, "kind", fe.Kind.String(), "op", fe.Op)
			if fe.Path != "" {
				attrs = append(attrs, "path", fe.Path)
			}
			if fe.Slot != NoSlot {
				attrs = append(attrs, "slot", fe.Slot)
			}
		}
		logger.Error("fatal error", attrs...)
		panic(err)
	}
}

package trace

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see driver events in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.NodeID != 0 {
		attrs = append(attrs, slog.Uint64("node", uint64(event.NodeID)))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Uint64("addr", uint64(event.Frame.Addr)),
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.Uint64("group", uint64(event.Message.Group)),
			slog.Uint64("op", uint64(event.Message.Op)),
			slog.Int("length", event.Message.Length),
		)
		if event.Message.Socket != nil {
			attrs = append(attrs, slog.Uint64("socket", uint64(*event.Message.Socket)))
		}
		if event.Message.Session != nil {
			attrs = append(attrs, slog.Uint64("sock_session", uint64(*event.Message.Session)))
		}
		if event.Message.Src != nil {
			attrs = append(attrs, slog.Uint64("src", uint64(*event.Message.Src)))
		}
		if event.Message.Dst != nil {
			attrs = append(attrs, slog.Uint64("dst", uint64(*event.Message.Dst)))
		}
		if event.Message.HopCount != nil {
			attrs = append(attrs, slog.Uint64("hops", uint64(*event.Message.HopCount)))
		}
		if event.Message.Sequence != nil {
			attrs = append(attrs, slog.Uint64("seq", uint64(*event.Message.Sequence)))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "winc", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)

// Package logging forwards slog records onto the bus.
//
// BusHandler wraps another slog.Handler. Every record is passed to the wrapped
// handler unchanged; records at or above the configured level are also encoded
// as JSON and published on "<root>.__system__.log.<level>", where level is one
// of trace, debug, info, warning or error:
//
//	h := logging.NewBusHandler(slog.Default().Handler(), conn, "system.thermo.hub1")
//	if err := h.Start(ctx); err != nil {
//		return err
//	}
//	defer h.Close(time.Second)
//	logger := slog.New(h)
package logging

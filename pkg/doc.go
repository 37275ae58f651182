// Package pkg provides shared utilities for the fx3uvc camera firmware model.
//
// It carries the two cross-cutting concerns every other package relies on:
//
//   - Structured logging via Go's standard [log/slog] package, tagged with a
//     [Component] so streaming, control and hardware messages can be filtered
//   - Sentinel errors for USB protocol and capture pipeline failures
//
// # Logging
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentStream, "frame complete", "fid", 1)
//
// # Errors
//
//	if errors.Is(err, pkg.ErrFatalConfig) {
//	    // channel or endpoint setup failed at startup
//	}
package pkg

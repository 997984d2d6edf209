package simerr

import "errors"

var (
	// ErrConfiguration marks malformed or missing catalog, shape, tuning or
	// position data. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrActionInfeasible marks a move whose tether constraint cannot be met.
	// Structures recover from it locally (zero-delta move); it never reaches callers.
	ErrActionInfeasible = errors.New("action infeasible")

	// ErrEngineStep marks a failed physics step. Aborts the current sweep.
	ErrEngineStep = errors.New("engine step failure")

	// ErrExport marks an I/O failure while writing a snapshot.
	ErrExport = errors.New("export failure")
)

// Code maps an error to a short stable code for logs and the run index.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "E_CONFIG"
	case errors.Is(err, ErrActionInfeasible):
		return "E_INFEASIBLE"
	case errors.Is(err, ErrEngineStep):
		return "E_ENGINE_STEP"
	case errors.Is(err, ErrExport):
		return "E_EXPORT"
	default:
		return "E_INTERNAL"
	}
}

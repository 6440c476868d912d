// Package fault defines the error taxonomy shared by the validation and
// build layers.
//
// Three fatal classes exist, each carried as an error marker so callers can
// classify a failure without losing the wrapped cause or its stack trace:
//
//   - schema errors: a brick declares an impossible contract (unregistered
//     port kind, unknown operator). Authoring-time defects, raised while the
//     brick registry is populated, before any pipeline is read.
//   - config errors: a stage is missing a required field or carries a
//     malformed value. Raised while a pipeline is validated.
//   - connection errors: a stage references an unknown or incompatible
//     producer, or an unmet prerequisite. Raised while a pipeline is
//     validated.
//
// Everything else is an internal defect and stays unclassified.
package fault

import (
	"github.com/cockroachdb/errors"
)

// Marker sentinels for the fatal error classes. Never returned directly;
// use the constructors below.
var (
	ErrSchema     = errors.New("schema error")
	ErrConfig     = errors.New("config error")
	ErrConnection = errors.New("connection error")
)

// Schemaf returns a new error marked as a schema error.
func Schemaf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrSchema)
}

// Configf returns a new error marked as a config error.
func Configf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfig)
}

// Connectionf returns a new error marked as a connection error.
func Connectionf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConnection)
}

// IsSchema reports whether err is a schema error.
func IsSchema(err error) bool { return errors.Is(err, ErrSchema) }

// IsConfig reports whether err is a config error.
func IsConfig(err error) bool { return errors.Is(err, ErrConfig) }

// IsConnection reports whether err is a connection error.
func IsConnection(err error) bool { return errors.Is(err, ErrConnection) }

// Class returns a short label for the error's class, or "internal" when the
// error carries no marker.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case IsSchema(err):
		return "schema"
	case IsConfig(err):
		return "config"
	case IsConnection(err):
		return "connection"
	default:
		return "internal"
	}
}

// Hints flattens all hints attached to err into one user-facing string.
func Hints(err error) string {
	return errors.FlattenHints(err)
}

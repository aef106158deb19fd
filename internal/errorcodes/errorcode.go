// Package errorcodes defines plugin errors using a structured type.
// PluginError holds the two-character kind code and a human-readable
// description; Wrap attaches the underlying cause.
package errorcodes

import "errors"

// Predefined plugin error kinds.
var (
	ErrBootstrap       = PluginError{"BS", "Runtime unavailable or unusable"}
	ErrResolution      = PluginError{"RS", "Script not found on the procedural search path"}
	ErrLoad            = PluginError{"LD", "Script module failed to load"}
	ErrMissingFunction = PluginError{"MF", "Script does not define the function"}
	ErrInvocation      = PluginError{"IV", "Script function raised an error"}
	ErrMalformedResult = PluginError{"MR", "Script function returned a malformed result"}
)

// PluginError represents a plugin error kind with its code and description.
type PluginError struct {
	Code        string // two-character kind code
	Description string // human-readable description
}

// Error implements the Go error interface: "<Code>: <Description>".
func (e PluginError) Error() string {
	return e.Code + ": " + e.Description
}

// CodeOnly returns only the kind code (e.g., "LD"), for log fields.
func (e PluginError) CodeOnly() string {
	return e.Code
}

// Wrap returns an error of kind e caused by cause. errors.Is matches both
// the kind and the cause.
func (e PluginError) Wrap(cause error) error {
	if cause == nil {
		return e
	}

	return &kindError{kind: e, cause: cause}
}

// KindOf returns the kind of err, if it has one.
func KindOf(err error) (PluginError, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	var pe PluginError
	if errors.As(err, &pe) {
		return pe, true
	}

	return PluginError{}, false
}

type kindError struct {
	kind  PluginError
	cause error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

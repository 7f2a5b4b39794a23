package mods

import (
	"errors"
	"fmt"
)

// Error kinds. A format-specific rejection ("not my format") is not an error:
// TryParseMod returns (nil, nil) instead.
var (
	// ErrInvalidPackage indicates structurally malformed input in a
	// recognized format.
	ErrInvalidPackage = errors.New("invalid package")

	// ErrWrongTarget indicates the package was built for another application.
	ErrWrongTarget = errors.New("wrong target application")

	// ErrMissingDependency indicates no install path exists for a dependency.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrAcquisition indicates a dependency download failed.
	ErrAcquisition = errors.New("acquisition failed")

	// ErrIO indicates a disk or permission failure.
	ErrIO = errors.New("i/o failure")

	// ErrNotFound indicates no registered mod has the requested ID.
	ErrNotFound = errors.New("mod not found")

	// ErrNoCopyDestination indicates no installed mod accepts a file type.
	ErrNoCopyDestination = errors.New("no copy destination")
)

// InstallationError is the single error type that install, uninstall and
// import failures travel as. errors.Is matches both the Kind and anything in
// the wrapped cause chain.
type InstallationError struct {
	Kind    error  // One of the Err* kinds above
	ModID   string // Mod being processed, if known
	Message string
	Err     error // Underlying cause, may be nil
}

func (e *InstallationError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.ModID != "" {
		msg = fmt.Sprintf("mod %s: %s", e.ModID, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind and the cause to errors.Is and errors.As.
func (e *InstallationError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError creates an InstallationError with a formatted message.
func NewError(kind error, modID, format string, args ...interface{}) *InstallationError {
	return &InstallationError{
		Kind:    kind,
		ModID:   modID,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps err in an InstallationError. It returns nil for a nil err.
func WrapError(err error, kind error, modID, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &InstallationError{
		Kind:    kind,
		ModID:   modID,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// AsInstallationError returns err unchanged when it already is (or wraps) an
// InstallationError and otherwise wraps it with the given kind.
func AsInstallationError(err error, kind error, modID string) error {
	if err == nil {
		return nil
	}
	var ie *InstallationError
	if errors.As(err, &ie) {
		return err
	}
	return &InstallationError{Kind: kind, ModID: modID, Message: kind.Error(), Err: err}
}

// KindOf returns the kind of the outermost InstallationError in err's chain,
// or nil.
func KindOf(err error) error {
	var ie *InstallationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return nil
}

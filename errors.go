package wudf

import "errors"

// Bridge error taxonomy.  Callers match with errors.Is; the concrete errors
// returned by the bridge wrap these sentinels with context about what failed.
var (
	// ErrAttachment means the embedded runtime could not be created or the
	// calling worker could not attach to it.  This is a fatal
	// misconfiguration: nothing in the bridge works without an attached
	// runtime and no retry will change that.
	ErrAttachment = errors.New("runtime attachment failed")

	// ErrClassNotFound means a class name could not be resolved under the
	// loader it was requested from.
	ErrClassNotFound = errors.New("class not found")

	// ErrMethodNotFound means a class declares no method with the
	// requested name.
	ErrMethodNotFound = errors.New("method not found")

	// ErrConstruction means a class has no zero-argument constructor or
	// the constructor raised.
	ErrConstruction = errors.New("construction failed")

	// ErrInvocation means a resolved method call raised inside the guest.
	// The wrapping error carries the decoded guest exception text.
	ErrInvocation = errors.New("invocation raised")

	// ErrSignatureDecode means a method descriptor string is malformed or
	// uses grammar the bridge does not support.
	ErrSignatureDecode = errors.New("bad method signature")
)

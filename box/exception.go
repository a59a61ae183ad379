package box

import (
	"errors"
	"fmt"
	"strings"

	"github.com/colbridge/wudf"
	"github.com/tetratelabs/wazero/sys"
)

// DumpError decodes a raised guest error into a descriptive native string:
// the failure class, its message, and the guest stack if the runtime
// captured one.  The runtime clears its trap state when the call returns,
// so nothing pends on the worker after the dump.
func DumpError(err error) string {
	if err == nil {
		return ""
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return fmt.Sprintf("guest exited with code %d", exit.ExitCode())
	}
	msg := err.Error()
	if head, stack, ok := strings.Cut(msg, "\n"); ok {
		return fmt.Sprintf("guest raised: %s\n%s", head, stack)
	}
	return "guest raised: " + msg
}

// InvocationError wraps a raised guest call as an ErrInvocation carrying the
// decoded description.
func InvocationError(what string, err error) error {
	return fmt.Errorf("%s: %s: %w", what, DumpError(err), wudf.ErrInvocation)
}

// Package errors provides the error taxonomy of the bus client.
//
// # Classification
//
// Every error is one of three classes: Transient (retry may succeed), Invalid (bad
// input, do not retry) and Fatal (stop). Connection and timeout failures are transient,
// path and value errors are invalid, missing configuration is fatal.
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// through Wrap, WrapTransient, WrapInvalid and WrapFatal:
//
//	if err := m.publish(ctx, packet); err != nil {
//	    return errors.WrapTransient(err, "Manager", "AddNode", "publish subtree")
//	}
//
// # Sentinels
//
// Local tree errors (ErrInvalidPath, ErrDuplicateSegment, ErrNotFound, ErrWrongKind,
// ErrInvalidValue) are returned synchronously by node operations. Remote interaction
// errors (ErrTimeout, ErrCancelled, ErrNotResolved, ErrConnection) are returned by proxy
// operations. Errors reported by a remote peer arrive as *RemoteError, which matches
// both ErrRemote and the sentinel of its Code:
//
//	_, err := attr.Get(ctx)
//	if errors.Is(err, errors.ErrNotFound) {
//	    // the remote element is gone
//	}
package errors

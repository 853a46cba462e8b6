/*
Package errors implements custom error interfaces for the escrow engine.

Each returned error is rooted in one of the registered error instances
declared in this package. Test for an error category using the root error
Is method:

	if errors.ErrUnauthorized.Is(err) {
		...
	}

Use Wrap to add context to an error without changing its category:

	return errors.Wrap(errors.ErrState, "already closed")

The first Wrap call attaches a stack trace to the error.
*/
package errors

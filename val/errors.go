package val

import "errors"

// ErrInvalidArgument is returned (wrapped) when a Value does not fit the
// range of its declared type. run() surfaces this as the
// invalid_argument error without changing instance state.
var ErrInvalidArgument = errors.New("invalid argument")

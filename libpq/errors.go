package libpq

import "github.com/pkg/errors"

// Row encoding failures are caller defects. They are raised with panic,
// the panic value being an error that wraps one of these.
var (
	ErrColumnCountMismatch = errors.New("row writer finished with an invalid number of columns")
	ErrTimestampOutOfRange = errors.New("timestamp out of range for microsecond offset")
	ErrRowInProgress       = errors.New("another row writer is active on this batch")
	ErrRowFinished         = errors.New("row writer already finished")
	ErrTooManyColumns      = errors.New("row description has more columns than a DataRow can carry")
)

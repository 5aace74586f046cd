package libpq

import (
	"io"

	"github.com/pkg/errors"
)

// WriteBatch writes the framed rows of b to w unchanged. The batch must
// not have a row in progress.
func WriteBatch(w io.Writer, b *DataRowBatch) (int, error) {
	if b.active != nil {
		panic(errors.Wrap(ErrRowInProgress, "write batch"))
	}
	n, err := w.Write(b.Bytes())
	if err != nil {
		return n, errors.Wrapf(err, "write %d rows", b.NumRows())
	}
	return n, nil
}

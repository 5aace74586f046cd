package libpq

import (
	"math"

	"github.com/pkg/errors"
)

// DataRowBatch accumulates DataRow messages for one result set.
//
// Rows are staged one at a time through a DataRowWriter obtained from
// CreateRow or WithRow. Only complete, framed rows ever reach the batch
// output; Bytes can be handed to WriteBatch as is.
type DataRowBatch struct {
	desc    RowDescription
	format  FormatCode
	numRows int

	data writeBuffer // framed rows
	row  writeBuffer // row being staged by the active writer

	active *DataRowWriter
}

// NewDataRowBatch creates an empty batch. The format of desc applies to
// every row of the batch, even if the fields are replaced later.
func NewDataRowBatch(desc RowDescription) *DataRowBatch {
	return &DataRowBatch{
		desc:   desc,
		format: desc.Format,
	}
}

// CreateRow starts a new row. The returned writer must be finished before
// the next row is created. It panics if the description has more than
// math.MaxInt16 fields.
func (b *DataRowBatch) CreateRow() *DataRowWriter {
	b.numRows++

	if b.active != nil {
		panic(errors.Wrapf(ErrRowInProgress, "row %d", b.numRows))
	}
	// The preamble is an int16.
	if len(b.desc.Fields) > math.MaxInt16 {
		panic(errors.Wrapf(ErrTooManyColumns, "%d columns", len(b.desc.Fields)))
	}

	w := &DataRowWriter{
		batch:   b,
		numCols: len(b.desc.Fields),
	}
	b.row.Reset()
	b.row.putInt16(int16(w.numCols))
	b.active = w
	return w
}

// WithRow creates a row, passes its writer to fn and finishes the row when
// fn returns. If fn panics the staged row is dropped.
func (b *DataRowBatch) WithRow(fn func(w *DataRowWriter)) {
	w := b.CreateRow()
	completed := false
	defer func() {
		if !completed {
			w.abandon()
			return
		}
		w.Finish()
	}()

	fn(w)
	completed = true
}

// NumRows returns the number of rows created on this batch.
func (b *DataRowBatch) NumRows() int {
	return b.numRows
}

// SetFields replaces the column list. Rows created afterwards use the new
// column count; rows already written are not touched.
func (b *DataRowBatch) SetFields(fields []FieldDescription) {
	b.desc.Fields = fields
}

func (b *DataRowBatch) RowDescription() RowDescription {
	return b.desc
}

func (b *DataRowBatch) Format() FormatCode {
	return b.format
}

// Bytes returns the framed rows written so far. The slice is only valid
// until the next row is finished.
func (b *DataRowBatch) Bytes() []byte {
	return b.data.Bytes()
}

func (b *DataRowBatch) Len() int {
	return b.data.Len()
}

// Reset drops all rows so the batch can be reused with the same
// description.
func (b *DataRowBatch) Reset() {
	if b.active != nil {
		panic(errors.Wrap(ErrRowInProgress, "reset"))
	}
	b.numRows = 0
	b.data.Reset()
	b.row.Reset()
}

func (b *DataRowBatch) commit(w *DataRowWriter) {
	b.data.WriteByte(byte(ServerMsgDataRow))
	b.data.putInt32(int32(b.row.Len() + 4))
	b.data.Write(b.row.Bytes())
	b.release(w)
}

func (b *DataRowBatch) release(w *DataRowWriter) {
	if b.active == w {
		b.active = nil
	}
	b.row.Reset()
}

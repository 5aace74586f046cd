package libpq

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
)

const (
	pgDateFormat      = "2006-01-02"
	pgTimestampFormat = "2006-01-02 15:04:05.999999"
)

// DataRowWriter encodes the values of one row, in column order, using the
// format of its batch. It is obtained from DataRowBatch.CreateRow and must
// be finished exactly once.
type DataRowWriter struct {
	batch   *DataRowBatch
	numCols int
	cols    int
	done    bool

	tmp [32]byte
}

type fixedWidthNumber interface {
	int16 | int32 | int64 | float32 | float64
}

// numericEncoding describes how a fixed width number is rendered: as
// decimal text, or as width big-endian bytes.
type numericEncoding[T fixedWidthNumber] struct {
	width      int
	appendText func(b []byte, v T) []byte
	putBinary  func(b []byte, v T)
}

var (
	int2Encoding = numericEncoding[int16]{
		width:      2,
		appendText: func(b []byte, v int16) []byte { return strconv.AppendInt(b, int64(v), 10) },
		putBinary:  func(b []byte, v int16) { binary.BigEndian.PutUint16(b, uint16(v)) },
	}
	int4Encoding = numericEncoding[int32]{
		width:      4,
		appendText: func(b []byte, v int32) []byte { return strconv.AppendInt(b, int64(v), 10) },
		putBinary:  func(b []byte, v int32) { binary.BigEndian.PutUint32(b, uint32(v)) },
	}
	int8Encoding = numericEncoding[int64]{
		width:      8,
		appendText: func(b []byte, v int64) []byte { return strconv.AppendInt(b, v, 10) },
		putBinary:  func(b []byte, v int64) { binary.BigEndian.PutUint64(b, uint64(v)) },
	}
	float4Encoding = numericEncoding[float32]{
		width:      4,
		appendText: func(b []byte, v float32) []byte { return appendFloatText(b, float64(v), 32) },
		putBinary:  func(b []byte, v float32) { binary.BigEndian.PutUint32(b, math.Float32bits(v)) },
	}
	float8Encoding = numericEncoding[float64]{
		width:      8,
		appendText: func(b []byte, v float64) []byte { return appendFloatText(b, v, 64) },
		putBinary:  func(b []byte, v float64) { binary.BigEndian.PutUint64(b, math.Float64bits(v)) },
	}
)

// appendFloatText renders f the way PostgreSQL prints float4/float8.
func appendFloatText(b []byte, f float64, bitSize int) []byte {
	switch {
	case math.IsInf(f, 1):
		return append(b, "Infinity"...)
	case math.IsInf(f, -1):
		return append(b, "-Infinity"...)
	}
	return strconv.AppendFloat(b, f, 'f', -1, bitSize)
}

func writeNumeric[T fixedWidthNumber](w *DataRowWriter, v T, enc numericEncoding[T]) {
	if w.batch.format == FormatBinary {
		enc.putBinary(w.tmp[:enc.width], v)
		w.WriteValue(w.tmp[:enc.width])
		return
	}
	w.WriteValue(enc.appendText(w.tmp[:0], v))
}

func (w *DataRowWriter) checkOpen() {
	if w.done {
		panic(errors.Wrapf(ErrRowFinished, "column %d", w.cols+1))
	}
}

// WriteValue writes a length-prefixed value for the next column.
func (w *DataRowWriter) WriteValue(data []byte) {
	w.checkOpen()
	w.cols++
	w.batch.row.putInt32(int32(len(data)))
	w.batch.row.Write(data)
}

// WriteNull writes a NULL for the next column.
func (w *DataRowWriter) WriteNull() {
	w.checkOpen()
	w.cols++
	// NULL is encoded as -1; all other values have a length prefix.
	w.batch.row.putInt32(-1)
}

func (w *DataRowWriter) WriteString(v string) {
	w.checkOpen()
	w.cols++
	w.batch.row.putInt32(int32(len(v)))
	w.batch.row.WriteString(v)
}

func (w *DataRowWriter) WriteBytes(v []byte) {
	w.WriteValue(v)
}

// WriteBool writes a boolean for the next column. In binary format the
// value is a single byte without a length prefix.
func (w *DataRowWriter) WriteBool(v bool) {
	if w.batch.format == FormatBinary {
		w.checkOpen()
		w.cols++
		var c byte
		if v {
			c = 1
		}
		w.batch.row.WriteByte(c)
		return
	}

	if v {
		w.WriteString("t")
	} else {
		w.WriteString("f")
	}
}

func (w *DataRowWriter) WriteInt2(v int16) {
	writeNumeric(w, v, int2Encoding)
}

func (w *DataRowWriter) WriteInt4(v int32) {
	writeNumeric(w, v, int4Encoding)
}

func (w *DataRowWriter) WriteInt8(v int64) {
	writeNumeric(w, v, int8Encoding)
}

func (w *DataRowWriter) WriteFloat4(v float32) {
	writeNumeric(w, v, float4Encoding)
}

func (w *DataRowWriter) WriteFloat8(v float64) {
	writeNumeric(w, v, float8Encoding)
}

// WriteDate writes d as days since 2000-01-01 in binary format, or as
// YYYY-MM-DD in text format.
func (w *DataRowWriter) WriteDate(d civil.Date) {
	if w.batch.format == FormatBinary {
		w.WriteInt4(DaysSinceEpoch(d))
		return
	}
	w.WriteString(d.In(time.UTC).Format(pgDateFormat))
}

// WriteTimestamp writes dt as microseconds since 2000-01-01T00:00:00 in
// binary format, or as an ISO-8601 datetime in text format. It panics if
// the binary offset does not fit in 64 bits.
func (w *DataRowWriter) WriteTimestamp(dt civil.DateTime) {
	if w.batch.format == FormatBinary {
		us, err := MicrosSinceEpoch(dt)
		if err != nil {
			panic(err)
		}
		w.WriteInt8(us)
		return
	}
	w.WriteString(dt.In(time.UTC).Format(pgTimestampFormat))
}

// Finish validates the column count and appends the row to the batch.
// Calling Finish on a finished writer does nothing.
func (w *DataRowWriter) Finish() {
	if w.done {
		return
	}
	w.done = true

	if w.cols != w.numCols {
		w.batch.release(w)
		panic(errors.Wrapf(ErrColumnCountMismatch, "expected %d, wrote %d", w.numCols, w.cols))
	}
	w.batch.commit(w)
}

// abandon drops the staged row without committing it.
func (w *DataRowWriter) abandon() {
	if w.done {
		return
	}
	w.done = true
	w.batch.release(w)
}

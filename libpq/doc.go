// Package libpq implements the server side of the PostgreSQL wire protocol.
//
// A server reads a request from the socket, hands it to an Executor and
// writes the response.
//
// Result rows are encoded through a DataRowBatch: each row is staged by a
// DataRowWriter, checked against the column count of the row description
// and appended to the batch as a framed DataRow ('D') message. One format,
// text or binary, applies to every column of a batch. WriteBatch sends the
// finished batch verbatim.
//
//	batch := libpq.NewDataRowBatch(desc)
//	batch.WithRow(func(w *libpq.DataRowWriter) {
//		w.WriteString("xiaowang")
//		w.WriteInt8(32)
//	})
//	libpq.WriteBatch(conn, batch)
//
// Writing the wrong number of columns, opening a second row writer while
// one is active, or a binary timestamp that does not fit the 64-bit
// microsecond range are programming errors and panic.
package libpq

package libpq_test

import (
	"encoding/binary"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/lib/pq/oid"
	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	. "github.com/yydzero/pgwire/libpq"
)

var _ = Describe("DataRowWriter", func() {
	Context("NULL", func() {
		table.DescribeTable("is a -1 length without payload",
			func(format FormatCode) {
				b := newBatch(format, oid.T_int4)
				b.WithRow(func(w *DataRowWriter) { w.WriteNull() })

				Expect(b.Bytes()).To(Equal([]byte{'D', 0, 0, 0, 10, 0, 1, 0xff, 0xff, 0xff, 0xff}))
				Expect(parseRows(b.Bytes())[0].values[0]).To(BeNil())
			},
			table.Entry("text", FormatText),
			table.Entry("binary", FormatBinary),
		)
	})

	Context("bool", func() {
		It("is a single unprefixed byte in binary format", func() {
			b := newBatch(FormatBinary, oid.T_bool, oid.T_bool)
			b.WithRow(func(w *DataRowWriter) {
				w.WriteBool(true)
				w.WriteBool(false)
			})

			Expect(b.Bytes()).To(Equal([]byte{'D', 0, 0, 0, 8, 0, 2, 1, 0}))
		})

		It("is t or f in text format", func() {
			b := newBatch(FormatText, oid.T_bool, oid.T_bool)
			b.WithRow(func(w *DataRowWriter) {
				w.WriteBool(true)
				w.WriteBool(false)
			})

			Expect(b.Bytes()).To(Equal([]byte{
				'D', 0, 0, 0, 16, 0, 2,
				0, 0, 0, 1, 't',
				0, 0, 0, 1, 'f',
			}))
		})
	})

	Context("fixed width numbers", func() {
		table.DescribeTable("round-trip through the binary format",
			func(write func(w *DataRowWriter), width int, decode func([]byte) interface{}, expected interface{}) {
				v := singleValue(FormatBinary, write)
				Expect(v).To(HaveLen(width))
				Expect(decode(v)).To(Equal(expected))
			},
			table.Entry("int2", func(w *DataRowWriter) { w.WriteInt2(-12345) }, 2,
				func(b []byte) interface{} { return int16(binary.BigEndian.Uint16(b)) }, int16(-12345)),
			table.Entry("int2 min", func(w *DataRowWriter) { w.WriteInt2(math.MinInt16) }, 2,
				func(b []byte) interface{} { return int16(binary.BigEndian.Uint16(b)) }, int16(math.MinInt16)),
			table.Entry("int4", func(w *DataRowWriter) { w.WriteInt4(123456789) }, 4,
				func(b []byte) interface{} { return int32(binary.BigEndian.Uint32(b)) }, int32(123456789)),
			table.Entry("int4 negative", func(w *DataRowWriter) { w.WriteInt4(-1) }, 4,
				func(b []byte) interface{} { return int32(binary.BigEndian.Uint32(b)) }, int32(-1)),
			table.Entry("int8", func(w *DataRowWriter) { w.WriteInt8(math.MaxInt64) }, 8,
				func(b []byte) interface{} { return int64(binary.BigEndian.Uint64(b)) }, int64(math.MaxInt64)),
			table.Entry("float4", func(w *DataRowWriter) { w.WriteFloat4(-3.25) }, 4,
				func(b []byte) interface{} { return math.Float32frombits(binary.BigEndian.Uint32(b)) }, float32(-3.25)),
			table.Entry("float8", func(w *DataRowWriter) { w.WriteFloat8(math.Pi) }, 8,
				func(b []byte) interface{} { return math.Float64frombits(binary.BigEndian.Uint64(b)) }, math.Pi),
			table.Entry("float8 smallest", func(w *DataRowWriter) { w.WriteFloat8(math.SmallestNonzeroFloat64) }, 8,
				func(b []byte) interface{} { return math.Float64frombits(binary.BigEndian.Uint64(b)) }, math.SmallestNonzeroFloat64),
		)

		It("writes big-endian bytes", func() {
			Expect(singleValue(FormatBinary, func(w *DataRowWriter) { w.WriteInt4(0x01020304) })).
				To(Equal([]byte{1, 2, 3, 4}))
		})

		table.DescribeTable("render as decimal text",
			func(write func(w *DataRowWriter), expected string) {
				Expect(string(singleValue(FormatText, write))).To(Equal(expected))
			},
			table.Entry("int2", func(w *DataRowWriter) { w.WriteInt2(-42) }, "-42"),
			table.Entry("int4", func(w *DataRowWriter) { w.WriteInt4(2147483647) }, "2147483647"),
			table.Entry("int8", func(w *DataRowWriter) { w.WriteInt8(math.MinInt64) }, "-9223372036854775808"),
			table.Entry("float4", func(w *DataRowWriter) { w.WriteFloat4(1.5) }, "1.5"),
			table.Entry("float4 shortest", func(w *DataRowWriter) { w.WriteFloat4(0.1) }, "0.1"),
			table.Entry("float8", func(w *DataRowWriter) { w.WriteFloat8(5500.25) }, "5500.25"),
			table.Entry("float8 integral", func(w *DataRowWriter) { w.WriteFloat8(3) }, "3"),
			table.Entry("float8 NaN", func(w *DataRowWriter) { w.WriteFloat8(math.NaN()) }, "NaN"),
			table.Entry("float8 infinity", func(w *DataRowWriter) { w.WriteFloat8(math.Inf(-1)) }, "-Infinity"),
		)
	})

	Context("strings", func() {
		It("writes UTF-8 bytes with a length prefix", func() {
			Expect(string(singleValue(FormatText, func(w *DataRowWriter) { w.WriteString("héllo") }))).To(Equal("héllo"))
			Expect(singleValue(FormatBinary, func(w *DataRowWriter) { w.WriteString("héllo") })).To(HaveLen(6))
		})

		It("distinguishes the empty string from NULL", func() {
			v := singleValue(FormatText, func(w *DataRowWriter) { w.WriteString("") })
			Expect(v).NotTo(BeNil())
			Expect(v).To(BeEmpty())
		})

		It("writes raw bytes", func() {
			Expect(singleValue(FormatBinary, func(w *DataRowWriter) { w.WriteBytes([]byte{0, 1, 2}) })).
				To(Equal([]byte{0, 1, 2}))
		})
	})

	Context("dates", func() {
		table.DescribeTable("are day offsets from 2000-01-01 in binary format",
			func(d civil.Date, days int32) {
				v := singleValue(FormatBinary, func(w *DataRowWriter) { w.WriteDate(d) })
				Expect(v).To(HaveLen(4))
				Expect(int32(binary.BigEndian.Uint32(v))).To(Equal(days))
			},
			table.Entry("epoch", civil.Date{Year: 2000, Month: time.January, Day: 1}, int32(0)),
			table.Entry("day after", civil.Date{Year: 2000, Month: time.January, Day: 2}, int32(1)),
			table.Entry("day before", civil.Date{Year: 1999, Month: time.December, Day: 31}, int32(-1)),
			table.Entry("leap year", civil.Date{Year: 2001, Month: time.January, Day: 1}, int32(366)),
			table.Entry("unix epoch", civil.Date{Year: 1970, Month: time.January, Day: 1}, int32(-10957)),
		)

		It("are ISO-8601 in text format", func() {
			d := civil.Date{Year: 2000, Month: time.January, Day: 2}
			Expect(string(singleValue(FormatText, func(w *DataRowWriter) { w.WriteDate(d) }))).To(Equal("2000-01-02"))
		})
	})

	Context("timestamps", func() {
		table.DescribeTable("are microsecond offsets from 2000-01-01T00:00:00 in binary format",
			func(dt civil.DateTime, us int64) {
				v := singleValue(FormatBinary, func(w *DataRowWriter) { w.WriteTimestamp(dt) })
				Expect(v).To(HaveLen(8))
				Expect(int64(binary.BigEndian.Uint64(v))).To(Equal(us))
			},
			table.Entry("epoch", PGTimestampEpoch, int64(0)),
			table.Entry("one second", civil.DateTime{Date: PGDateEpoch, Time: civil.Time{Second: 1}}, int64(1000000)),
			table.Entry("one microsecond before",
				civil.DateTime{
					Date: civil.Date{Year: 1999, Month: time.December, Day: 31},
					Time: civil.Time{Hour: 23, Minute: 59, Second: 59, Nanosecond: 999999000},
				}, int64(-1)),
			table.Entry("one day", civil.DateTime{Date: civil.Date{Year: 2000, Month: time.January, Day: 2}}, int64(86400000000)),
		)

		It("are ISO-8601 in text format", func() {
			dt := civil.DateTime{Date: PGDateEpoch, Time: civil.Time{Second: 1, Nanosecond: 500000000}}
			Expect(string(singleValue(FormatText, func(w *DataRowWriter) { w.WriteTimestamp(dt) }))).
				To(Equal("2000-01-01 00:00:01.5"))
		})

		It("panics when the offset does not fit in 64 bits", func() {
			dt := civil.DateTime{Date: civil.Date{Year: 300000, Month: time.January, Day: 1}}
			b := newBatch(FormatBinary, oid.T_timestamp)

			Expect(func() {
				b.WithRow(func(w *DataRowWriter) { w.WriteTimestamp(dt) })
			}).To(PanicWith(MatchError(ErrTimestampOutOfRange)))
			Expect(b.Len()).To(Equal(0))
		})

		It("does not check the range in text format", func() {
			dt := civil.DateTime{Date: civil.Date{Year: 300000, Month: time.January, Day: 1}}
			Expect(func() {
				singleValue(FormatText, func(w *DataRowWriter) { w.WriteTimestamp(dt) })
			}).NotTo(Panic())
		})
	})

	Context("Finish", func() {
		It("panics without emitting a row when columns are missing", func() {
			b := newBatch(FormatText, oid.T_text, oid.T_text)
			w := b.CreateRow()
			w.WriteString("one")

			Expect(w.Finish).To(PanicWith(MatchError(ErrColumnCountMismatch)))
			Expect(b.Len()).To(Equal(0))
			Expect(b.NumRows()).To(Equal(1))
		})

		It("panics without emitting a row when there are too many columns", func() {
			b := newBatch(FormatBinary, oid.T_int4)

			Expect(func() {
				b.WithRow(func(w *DataRowWriter) {
					w.WriteInt4(1)
					w.WriteInt4(2)
				})
			}).To(PanicWith(MatchError(ErrColumnCountMismatch)))
			Expect(b.Len()).To(Equal(0))
		})

		It("accepts rows without columns", func() {
			b := newBatch(FormatText)
			b.WithRow(func(w *DataRowWriter) {})
			Expect(b.Bytes()).To(Equal([]byte{'D', 0, 0, 0, 6, 0, 0}))
		})

		It("commits the row once when called repeatedly", func() {
			b := newBatch(FormatText, oid.T_text)
			w := b.CreateRow()
			w.WriteString("x")
			w.Finish()
			w.Finish()

			Expect(parseRows(b.Bytes())).To(HaveLen(1))
		})

		It("rejects writes after finishing", func() {
			b := newBatch(FormatText, oid.T_text)
			w := b.CreateRow()
			w.WriteNull()
			w.Finish()

			Expect(func() { w.WriteString("late") }).To(PanicWith(MatchError(ErrRowFinished)))
			Expect(func() { w.WriteBool(true) }).To(PanicWith(MatchError(ErrRowFinished)))
			Expect(func() { w.WriteInt8(1) }).To(PanicWith(MatchError(ErrRowFinished)))
			Expect(parseRows(b.Bytes())).To(HaveLen(1))
		})
	})

	Context("WithRow", func() {
		It("finishes the row on early return", func() {
			b := newBatch(FormatText, oid.T_text)
			for _, skip := range []bool{true, false} {
				b.WithRow(func(w *DataRowWriter) {
					if skip {
						w.WriteNull()
						return
					}
					w.WriteString("value")
				})
			}

			rows := parseRows(b.Bytes())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].values[0]).To(BeNil())
			Expect(string(rows[1].values[0])).To(Equal("value"))
		})

		It("finishes the row exactly once when fn finishes it itself", func() {
			b := newBatch(FormatText, oid.T_text)
			b.WithRow(func(w *DataRowWriter) {
				w.WriteString("x")
				w.Finish()
			})

			Expect(parseRows(b.Bytes())).To(HaveLen(1))
			Expect(b.NumRows()).To(Equal(1))
		})

		It("drops the row and releases the batch when fn panics", func() {
			b := newBatch(FormatText, oid.T_text)
			Expect(func() {
				b.WithRow(func(w *DataRowWriter) {
					panic("boom")
				})
			}).To(PanicWith("boom"))
			Expect(b.Len()).To(Equal(0))

			b.WithRow(func(w *DataRowWriter) { w.WriteString("next") })
			Expect(parseRows(b.Bytes())).To(HaveLen(1))
		})
	})
})

package libpq

import (
	"encoding/binary"
	"time"

	"github.com/lib/pq/oid"
	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/yydzero/pgwire/executor"
	"github.com/yydzero/pgwire/parser"
)

var _ = Describe("Datum encoding", func() {
	columns := []executor.ResultColumn{
		{Name: "name", Typ: parser.DummyString},
		{Name: "age", Typ: parser.DummyInt},
		{Name: "active", Typ: parser.DummyBool},
		{Name: "joined", Typ: parser.DummyDate},
	}
	joined := parser.DDate(time.Date(2000, time.January, 2, 0, 0, 0, 0, time.UTC).Unix() / secondsInDay)

	It("describes result columns", func() {
		desc := describeColumns(columns, FormatBinary)
		Expect(desc.Format).To(Equal(FormatBinary))
		Expect(desc.Fields).To(HaveLen(4))
		Expect(desc.Fields[1]).To(Equal(FieldDescription{
			Name: "age", TypeOID: oid.T_int8, TypeSize: 8, TypeModifier: -1,
		}))
		Expect(desc.Fields[3].TypeOID).To(Equal(oid.T_date))
	})

	It("encodes rows in text format", func() {
		batch, err := encodeRows(describeColumns(columns, FormatText), []executor.ResultRow{
			{Values: []parser.Datum{parser.DString("xiaowang"), parser.DInt(32), parser.DBool(true), joined}},
			{Values: []parser.Datum{parser.DNull, parser.DInt(-1), parser.DBool(false), joined}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(batch.NumRows()).To(Equal(2))

		var expected writeBuffer
		for _, row := range [][]string{{"xiaowang", "32", "t", "2000-01-02"}, {"", "-1", "f", "2000-01-02"}} {
			var payload writeBuffer
			payload.putInt16(4)
			for i, v := range row {
				if i == 0 && v == "" {
					payload.putInt32(-1)
					continue
				}
				payload.putInt32(int32(len(v)))
				payload.WriteString(v)
			}
			expected.WriteByte('D')
			expected.putInt32(int32(payload.Len() + 4))
			expected.Write(payload.Bytes())
		}
		Expect(batch.Bytes()).To(Equal(expected.Bytes()))
	})

	It("encodes rows in binary format", func() {
		batch, err := encodeRows(describeColumns(columns, FormatBinary), []executor.ResultRow{
			{Values: []parser.Datum{parser.DString("a"), parser.DInt(32), parser.DBool(true), joined}},
		})
		Expect(err).NotTo(HaveOccurred())

		b := batch.Bytes()
		Expect(b[0]).To(Equal(byte('D')))
		Expect(binary.BigEndian.Uint32(b[1:5])).To(BeEquivalentTo(len(b) - 1))
		Expect(b[5:]).To(Equal([]byte{
			0, 4,
			0, 0, 0, 1, 'a',
			0, 0, 0, 8, 0, 0, 0, 0, 0, 0, 0, 32,
			1,
			0, 0, 0, 4, 0, 0, 0, 1,
		}))
	})

	It("drops the row of an unsupported value", func() {
		batch, err := encodeRows(describeColumns(columns[:1], FormatBinary), []executor.ResultRow{
			{Values: []parser.Datum{parser.DString("ok")}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(batch.NumRows()).To(Equal(1))

		_, err = encodeRows(RowDescription{Fields: make([]FieldDescription, 1), Format: FormatBinary}, []executor.ResultRow{
			{Values: []parser.Datum{parser.DInterval{Duration: time.Hour}}},
		})
		Expect(err).To(HaveOccurred())
	})

	It("panics when an executor row does not match its columns", func() {
		Expect(func() {
			_, _ = encodeRows(describeColumns(columns, FormatText), []executor.ResultRow{
				{Values: []parser.Datum{parser.DString("short")}},
			})
		}).To(PanicWith(MatchError(ErrColumnCountMismatch)))
	})

	table.DescribeTable("writes datums as text",
		func(d parser.Datum, expected string) {
			b := NewDataRowBatch(RowDescription{Fields: make([]FieldDescription, 1)})
			b.WithRow(func(w *DataRowWriter) {
				Expect(writeDatum(w, d)).To(Succeed())
			})
			Expect(string(b.Bytes()[11:])).To(Equal(expected))
		},
		table.Entry("int2", parser.DInt2(7), "7"),
		table.Entry("int4", parser.DInt4(-7), "-7"),
		table.Entry("float4", parser.DFloat4(0.5), "0.5"),
		table.Entry("float8", parser.DFloat(2.25), "2.25"),
		table.Entry("bytes", parser.DBytes("\x01\xff"), `\x01ff`),
		table.Entry("timestamp", parser.DTimestamp{Time: time.Date(2016, time.May, 1, 10, 0, 0, 0, time.UTC)}, "2016-05-01 10:00:00"),
		table.Entry("interval", parser.DInterval{Duration: 90 * time.Minute}, "1h30m0s"),
	)
})

var _ = Describe("Parameter decoding", func() {
	table.DescribeTable("decodes binary parameters",
		func(id oid.Oid, b []byte, expected parser.Datum) {
			d, err := decodeOidDatum(id, FormatBinary, b)
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(expected))
		},
		table.Entry("bool", oid.T_bool, []byte{1}, parser.DBool(true)),
		table.Entry("int2", oid.T_int2, []byte{0xff, 0xfe}, parser.DInt2(-2)),
		table.Entry("int4", oid.T_int4, []byte{0, 0, 1, 0}, parser.DInt4(256)),
		table.Entry("int8", oid.T_int8, []byte{0, 0, 0, 0, 0, 0, 0, 20}, parser.DInt(20)),
		table.Entry("float8", oid.T_float8, []byte{0x3f, 0xf8, 0, 0, 0, 0, 0, 0}, parser.DFloat(1.5)),
		table.Entry("date", oid.T_date, []byte{0, 0, 0, 1},
			parser.DDate(time.Date(2000, time.January, 2, 0, 0, 0, 0, time.UTC).Unix()/secondsInDay)),
		table.Entry("timestamp", oid.T_timestamp, []byte{0, 0, 0, 0, 0, 0x0f, 0x42, 0x40},
			parser.DTimestamp{Time: time.Date(2000, time.January, 1, 0, 0, 1, 0, time.UTC)}),
	)

	table.DescribeTable("decodes text parameters",
		func(id oid.Oid, s string, expected parser.Datum) {
			d, err := decodeOidDatum(id, FormatText, []byte(s))
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(expected))
		},
		table.Entry("bool", oid.T_bool, "t", parser.DBool(true)),
		table.Entry("int4", oid.T_int4, "-12", parser.DInt4(-12)),
		table.Entry("int8", oid.T_int8, "20", parser.DInt(20)),
		table.Entry("text", oid.T_varchar, "abc", parser.DString("abc")),
		table.Entry("bytea", oid.T_bytea, `\x0102`, parser.DBytes("\x01\x02")),
		table.Entry("date before 1970", oid.T_date, "1969-12-31", parser.DDate(-1)),
	)

	It("rejects binary parameters of the wrong width", func() {
		_, err := decodeOidDatum(oid.T_int4, FormatBinary, []byte{1, 2})
		Expect(err).To(MatchError(ContainSubstring("expected 4 bytes")))
		Expect(err).To(BeAssignableToTypeOf(errors.New("")), "carries a stack trace")
	})

	It("reports unsupported datums with a stack trace", func() {
		b := NewDataRowBatch(RowDescription{Fields: make([]FieldDescription, 1), Format: FormatBinary})
		w := b.CreateRow()
		err := writeDatum(w, parser.DInterval{Duration: time.Second})
		w.abandon()

		Expect(err).To(MatchError(ContainSubstring("unsupported binary type")))
		Expect(err).To(BeAssignableToTypeOf(errors.New("")))
	})

	It("rejects unknown format codes", func() {
		_, err := decodeOidDatum(oid.T_int4, FormatCode(2), []byte("1"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("resultFormat", func() {
	It("defaults to text", func() {
		Expect(resultFormat(nil)).To(Equal(FormatText))
	})

	It("accepts a uniform format", func() {
		Expect(resultFormat([]FormatCode{FormatBinary, FormatBinary})).To(Equal(FormatBinary))
	})

	It("rejects mixed formats", func() {
		_, err := resultFormat([]FormatCode{FormatText, FormatBinary})
		Expect(err).To(MatchError(ContainSubstring("mixed")))
	})

	It("rejects unknown codes", func() {
		_, err := resultFormat([]FormatCode{3})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("paramTypes", func() {
	It("uses inferred types where the client sent no hint", func() {
		types, err := paramTypes([]oid.Oid{oid.T_varchar}, parser.MapArgs{
			"1": parser.DummyString,
			"2": parser.DummyInt,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(types).To(Equal([]oid.Oid{oid.T_varchar, oid.T_int8}))
	})

	It("keeps hints beyond the inferred parameters", func() {
		types, err := paramTypes([]oid.Oid{0, oid.T_bool}, parser.MapArgs{"1": parser.DummyDate})
		Expect(err).NotTo(HaveOccurred())
		Expect(types).To(Equal([]oid.Oid{oid.T_date, oid.T_bool}))
	})

	It("fails on parameters without a type", func() {
		_, err := paramTypes(nil, parser.MapArgs{"2": parser.DummyInt})
		Expect(err).To(MatchError(ContainSubstring("$1")))

		_, err = paramTypes(nil, parser.MapArgs{"x": parser.DummyInt})
		Expect(err).To(HaveOccurred())
	})
})

package libpq

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/lib/pq/oid"
	"github.com/pkg/errors"
	"github.com/yydzero/pgwire/parser"
)

// http://www.postgresql.org/docs/9.5/static/protocol-overview.html#PROTOCOL-FORMAT-CODES
type FormatCode int16

// Clients can specify a format code for each transmitted parameter value and
// for each column of a query result. Text has format code zero, binary has
// format code one, and all other format codes are reserved for future definition.
const (
	FormatText   FormatCode = 0
	FormatBinary FormatCode = 1
)

func (c FormatCode) String() string {
	switch c {
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	default:
		return strconv.Itoa(int(c))
	}
}

// FieldDescription describes one result column, as sent in RowDescription.
type FieldDescription struct {
	Name         string
	TableOID     oid.Oid
	Column       int16
	TypeOID      oid.Oid
	TypeSize     int16
	TypeModifier int32
}

// RowDescription is the ordered column list of a result set together with
// the format all of its values are encoded in.
type RowDescription struct {
	Fields []FieldDescription
	Format FormatCode
}

// pgType contains type metadata used in RowDescription messages.
type pgType struct {
	oid oid.Oid

	// Variable-size types have size=-1.
	// Note that the protocol has both int16 and int32 size fields,
	// so this attribute is an unsized int and should be cast as needed.
	// To get the right value, "SELECT oid, typlen FROM pg_type" on a postgres server.
	size int
}

// typeForDatum return type info (pg_type, include oid and size of type) for a datum
func typeForDatum(d parser.Datum) pgType {
	if d == parser.DNull {
		return pgType{}
	}

	switch d.(type) {
	case parser.DBool:
		return pgType{oid.T_bool, 1}

	case parser.DBytes:
		return pgType{oid.T_bytea, -1}

	case parser.DInt2:
		return pgType{oid.T_int2, 2}

	case parser.DInt4:
		return pgType{oid.T_int4, 4}

	case parser.DInt:
		return pgType{oid.T_int8, 8}

	case parser.DFloat4:
		return pgType{oid.T_float4, 4}

	case parser.DFloat:
		return pgType{oid.T_float8, 8}

	case *parser.DDecimal:
		return pgType{oid.T_numeric, -1}

	case parser.DString:
		return pgType{oid.T_text, -1}

	case parser.DDate:
		return pgType{oid.T_date, 4}

	case parser.DTimestamp:
		return pgType{oid.T_timestamp, 8}

	case parser.DInterval:
		return pgType{oid.T_interval, 16}

	default:
		panic(errors.Errorf("unsupported type %T", d))
	}
}

var (
	oidToDatum = map[oid.Oid]parser.Datum{
		oid.T_bool:        parser.DummyBool,
		oid.T_bytea:       parser.DummyBytes,
		oid.T_date:        parser.DummyDate,
		oid.T_float4:      parser.DummyFloat4,
		oid.T_float8:      parser.DummyFloat,
		oid.T_int2:        parser.DummyInt2,
		oid.T_int4:        parser.DummyInt4,
		oid.T_int8:        parser.DummyInt,
		oid.T_interval:    parser.DummyInterval,
		oid.T_numeric:     parser.DummyDecimal,
		oid.T_text:        parser.DummyString,
		oid.T_timestamp:   parser.DummyTimestamp,
		oid.T_timestamptz: parser.DummyTimestamp,
		oid.T_varchar:     parser.DummyString,
	}

	// Using reflection to support unhashable types.
	datumToOid = map[reflect.Type]oid.Oid{
		reflect.TypeOf(parser.DummyBool):      oid.T_bool,
		reflect.TypeOf(parser.DummyBytes):     oid.T_bytea,
		reflect.TypeOf(parser.DummyDate):      oid.T_date,
		reflect.TypeOf(parser.DummyFloat4):    oid.T_float4,
		reflect.TypeOf(parser.DummyFloat):     oid.T_float8,
		reflect.TypeOf(parser.DummyInt2):      oid.T_int2,
		reflect.TypeOf(parser.DummyInt4):      oid.T_int4,
		reflect.TypeOf(parser.DummyInt):       oid.T_int8,
		reflect.TypeOf(parser.DummyInterval):  oid.T_interval,
		reflect.TypeOf(parser.DummyDecimal):   oid.T_numeric,
		reflect.TypeOf(parser.DummyString):    oid.T_text,
		reflect.TypeOf(parser.DummyTimestamp): oid.T_timestamp,
	}
)

// fixedWidth checks that a binary parameter has exactly n bytes.
func fixedWidth(id oid.Oid, b []byte, n int) error {
	if len(b) != n {
		return errors.Errorf("%s: expected %d bytes, got %d", oid.TypeName[id], n, len(b))
	}
	return nil
}

// decodeOidDatum decodes bytes according to specified Oid and format code into a datum
func decodeOidDatum(id oid.Oid, code FormatCode, b []byte) (parser.Datum, error) {
	var d parser.Datum

	if code != FormatText && code != FormatBinary {
		return d, errors.Errorf("unsupported %s format code: %d", oid.TypeName[id], code)
	}

	switch id {
	case oid.T_bool:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 1); err != nil {
				return d, err
			}
			return parser.DBool(b[0] != 0), nil
		}
		switch string(b) {
		case "t", "true":
			return parser.DBool(true), nil
		case "f", "false":
			return parser.DBool(false), nil
		}
		v, err := strconv.ParseBool(string(b))
		if err != nil {
			return d, err
		}
		d = parser.DBool(v)

	case oid.T_int2:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 2); err != nil {
				return d, err
			}
			return parser.DInt2(binary.BigEndian.Uint16(b)), nil
		}
		i, err := strconv.ParseInt(string(b), 10, 16)
		if err != nil {
			return d, err
		}
		d = parser.DInt2(i)

	case oid.T_int4:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 4); err != nil {
				return d, err
			}
			return parser.DInt4(binary.BigEndian.Uint32(b)), nil
		}
		i, err := strconv.ParseInt(string(b), 10, 32)
		if err != nil {
			return d, err
		}
		d = parser.DInt4(i)

	case oid.T_int8:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 8); err != nil {
				return d, err
			}
			return parser.DInt(binary.BigEndian.Uint64(b)), nil
		}
		i, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return d, err
		}
		d = parser.DInt(i)

	case oid.T_float4:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 4); err != nil {
				return d, err
			}
			return parser.DFloat4(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
		}
		f, err := strconv.ParseFloat(string(b), 32)
		if err != nil {
			return d, err
		}
		d = parser.DFloat4(f)

	case oid.T_float8:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 8); err != nil {
				return d, err
			}
			return parser.DFloat(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
		}
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return d, err
		}
		d = parser.DFloat(f)

	case oid.T_numeric:
		if code == FormatBinary {
			return d, errors.Errorf("unsupported numeric format code: %d", code)
		}
		dd := &parser.DDecimal{}
		if _, ok := dd.SetString(string(b)); !ok {
			return nil, errors.Errorf("could not parse string %q as decimal", b)
		}
		d = dd

	case oid.T_text, oid.T_varchar:
		d = parser.DString(b)

	case oid.T_bytea:
		if code == FormatBinary {
			return parser.DBytes(b), nil
		}
		// http://www.postgresql.org/docs/current/static/datatype-binary.html#AEN5667
		// Only hex encoding is supported.
		if len(b) < 2 || !bytes.Equal(b[:2], []byte("\\x")) {
			return d, errors.Errorf("unsupported bytea encoding: %q", b)
		}
		b = b[2:]
		result := make([]byte, hex.DecodedLen(len(b)))
		if _, err := hex.Decode(result, b); err != nil {
			return d, err
		}
		d = parser.DBytes(result)

	case oid.T_timestamp, oid.T_timestamptz:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 8); err != nil {
				return d, err
			}
			dt := TimestampFromMicros(int64(binary.BigEndian.Uint64(b)))
			return parser.DTimestamp{Time: dt.In(time.UTC)}, nil
		}
		ts, err := parseTs(string(b))
		if err != nil {
			return d, errors.Errorf("could not parse string %q as timestamp", b)
		}
		d = parser.DTimestamp{Time: ts}

	case oid.T_date:
		if code == FormatBinary {
			if err := fixedWidth(id, b, 4); err != nil {
				return d, err
			}
			date := DateFromDays(int32(binary.BigEndian.Uint32(b)))
			return parser.DDate(date.In(time.UTC).Unix() / secondsInDay), nil
		}
		ts, err := parseTs(string(b))
		if err != nil {
			return d, errors.Errorf("could not parse string %q as date", b)
		}
		days := ts.Unix() / secondsInDay
		if ts.Unix()%secondsInDay < 0 {
			days--
		}
		d = parser.DDate(days)

	default:
		return d, errors.Errorf("unsupported OID: %v", id)
	}

	return d, nil
}

// parseTs parses timestamps in any of the formats that PostgreSQL accepts over the wire protocol.
//
// PostgreSQL is lenient in what it accepts as a timestamp, so we must also be lenient.
func parseTs(s string) (time.Time, error) {
	// RFC3339Nano is sent by github.com/lib/pq (go).
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}

	// pq.ParseTimestamp parses the timestamp format.
	return pq.ParseTimestamp(nil, s)
}

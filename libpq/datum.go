package libpq

import (
	"encoding/hex"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
	"github.com/yydzero/pgwire/parser"
)

// writeDatum writes d as the next column of w.
func writeDatum(w *DataRowWriter, d parser.Datum) error {
	if d == nil || d == parser.DNull {
		w.WriteNull()
		return nil
	}

	switch v := d.(type) {
	case parser.DBool:
		w.WriteBool(bool(v))

	case parser.DInt2:
		w.WriteInt2(int16(v))

	case parser.DInt4:
		w.WriteInt4(int32(v))

	case parser.DInt:
		w.WriteInt8(int64(v))

	case parser.DFloat4:
		w.WriteFloat4(float32(v))

	case parser.DFloat:
		w.WriteFloat8(float64(v))

	case *parser.DDecimal:
		if w.batch.format == FormatBinary {
			return errors.Errorf("unsupported binary type %T", d)
		}
		w.WriteString(v.Dec.String())

	case parser.DString:
		w.WriteString(string(v))

	case parser.DBytes:
		if w.batch.format == FormatBinary {
			// DBytes is a string, WriteString appends it without a []byte copy.
			w.WriteString(string(v))
			return nil
		}
		// http://www.postgresql.org/docs/current/static/datatype-binary.html#AEN5667
		result := make([]byte, 2+hex.EncodedLen(len(v)))
		result[0] = '\\'
		result[1] = 'x'
		hex.Encode(result[2:], []byte(v))
		w.WriteBytes(result)

	case parser.DDate:
		w.WriteDate(unixDaysToDate(int64(v)))

	case parser.DTimestamp:
		w.WriteTimestamp(civil.DateTimeOf(v.UTC()))

	case parser.DInterval:
		if w.batch.format == FormatBinary {
			return errors.Errorf("unsupported binary type %T", d)
		}
		w.WriteString(v.String())

	default:
		return errors.Errorf("unsupported type %T", d)
	}
	return nil
}

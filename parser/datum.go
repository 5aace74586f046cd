package parser

import (
	"time"

	"gopkg.in/inf.v0"
)

var (
	DummyBool      Datum = DBool(false)
	DummyInt2      Datum = DInt2(0)
	DummyInt4      Datum = DInt4(0)
	DummyInt       Datum = DInt(0)
	DummyFloat4    Datum = DFloat4(0)
	DummyFloat     Datum = DFloat(0)
	DummyDecimal   Datum = &DDecimal{}
	DummyString    Datum = DString("")
	DummyBytes     Datum = DBytes("")
	DummyDate      Datum = DDate(0)
	DummyTimestamp Datum = DTimestamp{}
	DummyInterval  Datum = DInterval{}
	DNull          Datum = dNull{}
)

type Datum interface {
	Type() string
}

type DBool bool

func (d DBool) Type() string {
	return "bool"
}

// DInt2 is a 16-bit integer, sent as int2.
type DInt2 int16

func (d DInt2) Type() string {
	return "int2"
}

// DInt4 is a 32-bit integer, sent as int4.
type DInt4 int32

func (d DInt4) Type() string {
	return "int4"
}

type DInt int64

func (d DInt) Type() string {
	return "int"
}

// DFloat4 is a single precision float, sent as float4.
type DFloat4 float32

func (d DFloat4) Type() string {
	return "float4"
}

type DFloat float64

func (d DFloat) Type() string {
	return "float"
}

type DDecimal struct {
	inf.Dec
}

func (d *DDecimal) Type() string {
	return "decimal"
}

type DString string

func (d DString) Type() string {
	return "string"
}

type DBytes string

func (d DBytes) Type() string {
	return "bytes"
}

// DDate is the number of days since 1970-01-01.
type DDate int64

func (d DDate) Type() string {
	return "date"
}

type DTimestamp struct {
	time.Time
}

func (d DTimestamp) Type() string {
	return "timestamp"
}

type DInterval struct {
	time.Duration
}

func (d DInterval) Type() string {
	return "interval"
}

type dNull struct{}

func (d dNull) Type() string {
	return "NULL"
}

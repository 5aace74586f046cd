// Package fake provides an executor that answers every query with the
// same small user table, narrowed to the columns of a "SELECT a, b FROM"
// list when there is one.
package fake

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/yydzero/pgwire/executor"
	"github.com/yydzero/pgwire/parser"
	"golang.org/x/net/context"
)

type FakeExecutor struct{}

func (e *FakeExecutor) Prepare(ctx context.Context, query string, args parser.MapArgs) (
	[]executor.ResultColumn, parser.MapArgs, error) {
	if args == nil {
		args = make(parser.MapArgs)
	}
	if strings.Contains(query, "$1") {
		if _, ok := args["1"]; !ok {
			args["1"] = parser.DummyInt
		}
	}
	cols, _, err := project(query)
	if err != nil {
		return nil, nil, err
	}
	return cols, args, nil
}

func (e *FakeExecutor) ExecuteStatements(ctx context.Context, stmts string, params []parser.Datum) executor.StatementResults {
	if strings.TrimSpace(strings.Trim(stmts, ";")) == "" {
		return executor.StatementResults{Empty: true}
	}
	return makeFakeStatementResults(stmts)
}

// project resolves the select list of "SELECT a, b FROM ..." against the
// user table. Any other statement selects every column.
func project(query string) ([]executor.ResultColumn, []int, error) {
	all := makeFakeColumns()

	lower := strings.ToLower(query)
	start := strings.Index(lower, "select ")
	end := strings.Index(lower, " from ")
	if start < 0 || end < start {
		return all, nil, nil
	}

	list := strings.TrimSpace(query[start+len("select ") : end])
	if list == "*" {
		return all, nil, nil
	}

	var (
		cols    []executor.ResultColumn
		indexes []int
	)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		found := false
		for i, c := range all {
			if strings.EqualFold(c.Name, name) {
				cols = append(cols, c)
				indexes = append(indexes, i)
				found = true
				break
			}
		}
		if !found {
			return nil, nil, errors.Errorf("column %q does not exist", name)
		}
	}
	return cols, indexes, nil
}

func makeResultColumn(name string, typ parser.Datum) executor.ResultColumn {
	return executor.ResultColumn{
		Name: name,
		Typ:  typ,
	}
}

func makeFakeColumns() []executor.ResultColumn {
	return []executor.ResultColumn{
		makeResultColumn("name", parser.DummyString),
		makeResultColumn("age", parser.DummyInt),
		makeResultColumn("description", parser.DummyString),
		makeResultColumn("level", parser.DummyInt2),
		makeResultColumn("salary", parser.DummyFloat),
		makeResultColumn("active", parser.DummyBool),
		makeResultColumn("joined", parser.DummyDate),
		makeResultColumn("updated", parser.DummyTimestamp),
	}
}

func date(year int, month time.Month, day int) parser.DDate {
	return parser.DDate(time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix() / (24 * 60 * 60))
}

func timestamp(year int, month time.Month, day, hour, min, sec int) parser.DTimestamp {
	return parser.DTimestamp{Time: time.Date(year, month, day, hour, min, sec, 0, time.UTC)}
}

func makeFakeRows() []executor.ResultRow {
	return []executor.ResultRow{
		{Values: []parser.Datum{
			parser.DString("xiaowang"), parser.DInt(32), parser.DString("SMTS"), parser.DInt2(3),
			parser.DFloat(5500.5), parser.DBool(true), date(2012, time.March, 1), timestamp(2016, time.May, 1, 10, 0, 0),
		}},
		{Values: []parser.Datum{
			parser.DString("xiaozhang"), parser.DInt(26), parser.DString("MTS 2"), parser.DInt2(2),
			parser.DFloat(4200), parser.DBool(false), date(2015, time.July, 15), parser.DNull,
		}},
		{Values: []parser.Datum{
			parser.DString("xiaohuang"), parser.DInt(30), parser.DNull, parser.DInt2(2),
			parser.DFloat(4800.25), parser.DBool(true), date(1999, time.December, 31), timestamp(2000, time.January, 1, 0, 0, 1),
		}},
	}
}

func makeFakeStatementResults(query string) executor.StatementResults {
	cols, indexes, err := project(query)
	if err != nil {
		return executor.StatementResults{
			ResultList: executor.ResultList{{Err: err}},
		}
	}

	rows := makeFakeRows()
	if indexes != nil {
		for i, row := range rows {
			values := make([]parser.Datum, len(indexes))
			for j, idx := range indexes {
				values[j] = row.Values[idx]
			}
			rows[i].Values = values
		}
	}

	r := executor.Result{
		Type:    executor.Rows,
		PGTag:   "SELECT",
		Columns: cols,
		Rows:    rows,
	}

	return executor.StatementResults{
		ResultList: executor.ResultList{r},
	}
}

package libpq

import (
	"bufio"
	"fmt"
	"net"
	"reflect"
	"strconv"

	"github.com/lib/pq/oid"
	"github.com/pkg/errors"
	"github.com/yydzero/pgwire/executor"
	"github.com/yydzero/pgwire/parser"
	"github.com/yydzero/pgwire/sql"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

type ClientMessageType byte
type ServerMessageType byte

// http://www.postgresql.org/docs/9.5/static/protocol-message-formats.html
const (
	// clientMsgStartup
	// clientMsgCancel
	// clientMsgSSLRequest

	ClientMsgBind        ClientMessageType = 'B'
	ClientMsgClose       ClientMessageType = 'C'
	ClientMsgDescribe    ClientMessageType = 'D'
	ClientMsgExecute     ClientMessageType = 'E'
	ClientMsgFuncCall    ClientMessageType = 'F'
	ClientMsgFlush       ClientMessageType = 'H'
	ClientMsgParse       ClientMessageType = 'P'
	ClientMsgPassword    ClientMessageType = 'p'
	ClientMsgSimpleQuery ClientMessageType = 'Q'
	ClientMsgTerminate   ClientMessageType = 'X'
	ClientMsgSync        ClientMessageType = 'S'

	ServerMsgAuth                 ServerMessageType = 'R'
	ServerMsgBindComplete         ServerMessageType = '2'
	ServerMsgCommandComplete      ServerMessageType = 'C'
	ServerMsgCloseComplete        ServerMessageType = '3'
	ServerMsgDataRow              ServerMessageType = 'D'
	ServerMsgEmptyQuery           ServerMessageType = 'I'
	ServerMsgErrorResponse        ServerMessageType = 'E'
	ServerMsgFuncCallResponse     ServerMessageType = 'V'
	ServerMsgKeyData              ServerMessageType = 'K'
	ServerMsgNoData               ServerMessageType = 'n'
	ServerMsgNoticeResponse       ServerMessageType = 'N'
	ServerMsgNotificationResponse ServerMessageType = 'A'
	ServerMsgParameterDescription ServerMessageType = 't'
	ServerMsgParameterStatus      ServerMessageType = 'S'
	ServerMsgParseComplete        ServerMessageType = '1'
	ServerMsgPortalSuspended      ServerMessageType = 's'
	ServerMsgReady                ServerMessageType = 'Z'
	ServerMsgRowDescription       ServerMessageType = 'T'
)

type PrepareType byte

const (
	PrepareStatement PrepareType = 'S'
	PreparePortal    PrepareType = 'P'
)

const (
	AuthOK int32 = 0
)

// preparedStatement is a SQL statement which has been parsed, analyzed and rewritten.
// Types of its arguments and results have been determined.
// Actual arguments are provided by BindMessage and executed by ExecuteMessage.
type preparedStatement struct {
	query    string
	argTypes []oid.Oid
	columns  []executor.ResultColumn
}

// portal is a preparedStatement that has been bound with parameters.
type portal struct {
	name   string
	stmt   preparedStatement
	params []parser.Datum
	format FormatCode // output format of every column
}

type pqConn struct {
	conn net.Conn

	r        *bufio.Reader
	w        *bufio.Writer
	readBuf  readBuffer
	writeBuf writeBuffer
	tagBuf   [64]byte

	log     *zap.Logger
	metrics *Metrics

	session  *sql.Session
	executor executor.Executor

	preparedStatements map[string]preparedStatement
	portals            map[string]portal

	extendedQueryMessage, ignoreTillSync bool
}

func newPQConn(conn net.Conn, s *Server, sessionArgs sql.ConnectionArgs) *pqConn {
	session := sql.NewSession(sessionArgs, conn.RemoteAddr())
	return &pqConn{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(countingWriter{conn, s.metrics}),

		log:     s.log.With(zap.String("remote", session.Remote)),
		metrics: s.metrics,

		executor: s.executor,

		preparedStatements: make(map[string]preparedStatement),
		portals:            make(map[string]portal),

		session: session,
	}
}

func (c *pqConn) close() {
	if err := c.w.Flush(); err != nil {
		c.log.Warn("failed to flush connection", zap.Error(err))
	}

	_ = c.conn.Close()
}

// parseOptions parse options from client
func parseOptions(data []byte, l *zap.Logger) (sql.ConnectionArgs, error) {
	args := sql.ConnectionArgs{}
	buf := readBuffer{msg: data}

	for {
		key, err := buf.getString()
		if err != nil {
			return args, errors.Wrap(err, "error when reading option key")
		}
		if len(key) == 0 {
			break
		}
		value, err := buf.getString()
		if err != nil {
			return args, errors.Wrap(err, "error when reading option value")
		}

		switch key {
		case "database":
			args.Database = value
		case "user":
			args.User = value
		case "client_encoding":
			args.ClientEncoding = value
		case "datestyle":
			args.DateStyle = value
		default:
			l.Debug("unrecognized connection parameter", zap.String("key", key))
		}
	}

	return args, nil
}

// serve serves a session/connection.
func (c *pqConn) serve(authenticationHook func(string, bool) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if authenticationHook != nil {
		if err := authenticationHook(c.session.User, true); err != nil {
			return c.sendInternalError(err.Error())
		}
	}

	// Server response with AuthMessage
	c.writeBuf.initMsg(ServerMsgAuth)
	c.writeBuf.putInt32(AuthOK)
	if err := c.writeBuf.finishMsg(c.w); err != nil {
		return err
	}

	// Server response with client_encoding/DateStyle/server_version parameters
	for _, kv := range [...][2]string{
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"integer_datetimes", "on"},
		{"server_version", "9.5.0"},
	} {
		c.writeBuf.initMsg(ServerMsgParameterStatus)
		for _, str := range kv {
			if err := c.writeBuf.writeString(str); err != nil {
				return err
			}
		}
		if err := c.writeBuf.finishMsg(c.w); err != nil {
			return err
		}
	}
	if err := c.w.Flush(); err != nil {
		return err
	}

	c.log.Debug("session ready", zap.String("user", c.session.User), zap.String("database", c.session.Database))

	// Main loop to handle client requests
	for {
		if !c.extendedQueryMessage {
			// Non extended query protocol
			c.writeBuf.initMsg(ServerMsgReady)
			var txnStatus byte
			switch c.session.TxnState.State {
			case sql.Aborted:
				txnStatus = 'E'
			case sql.Open:
				txnStatus = 'T'
			case sql.Idle:
				txnStatus = 'I'
			default:
				return errors.Errorf("wrong txn status: %v", c.session.TxnState.State)
			}

			c.writeBuf.WriteByte(txnStatus)
			if err := c.writeBuf.finishMsg(c.w); err != nil {
				return err
			}

			// We only flush on every message if not doing an extended query.
			// If we are, wait for an explicit Flush message. See:
			// http://www.postgresql.org/docs/current/static/protocol-flow.html#PROTOCOL-FLOW-EXT-QUERY.
			if err := c.w.Flush(); err != nil {
				return err
			}
		}

		typ, n, err := c.readBuf.readTypedMsg(c.r)
		if err != nil {
			return err
		}

		c.log.Debug("message", zap.String("type", string(rune(typ))), zap.Int("len", n))

		// When an error occurs handling an extended query message, we have to ignore
		// any messages until get a sync.
		if c.ignoreTillSync && typ != ClientMsgSync {
			continue
		}

		switch typ {
		case ClientMsgSync:
			c.extendedQueryMessage = false
			c.ignoreTillSync = false

		case ClientMsgSimpleQuery:
			c.extendedQueryMessage = false
			err = c.handleSimpleQuery(ctx, &c.readBuf)

		case ClientMsgTerminate:
			return nil

		case ClientMsgParse:
			c.extendedQueryMessage = true
			err = c.handleParse(ctx, &c.readBuf)

		case ClientMsgDescribe:
			c.extendedQueryMessage = true
			err = c.handleDescribe(&c.readBuf)

		case ClientMsgClose:
			c.extendedQueryMessage = true
			err = c.handleClose(&c.readBuf)

		case ClientMsgBind:
			c.extendedQueryMessage = true
			err = c.handleBind(&c.readBuf)

		case ClientMsgExecute:
			c.extendedQueryMessage = true
			err = c.handleExecute(ctx, &c.readBuf)

		case ClientMsgFlush:
			c.extendedQueryMessage = true
			err = c.w.Flush()

		default:
			err = c.sendError(sql.CodeProtocolViolation, fmt.Sprintf("unknown client message type: %c", typ))
		}

		if err != nil {
			return err
		}
	}
}

func (c *pqConn) handleSimpleQuery(ctx context.Context, buf *readBuffer) error {
	query, err := buf.getString()
	if err != nil {
		return err
	}

	return c.executeStatements(ctx, query, nil, FormatText, true, 0)
}

// handleParse parses prepared statement, eg:
//
//	SELECT * FROM tbl WHERE id = $1 AND name like $2
//
// parameters are 1-indexed.
func (c *pqConn) handleParse(ctx context.Context, buf *readBuffer) error {
	name, err := buf.getString()
	if err != nil {
		return err
	}

	// Unnamed prepared statement can be overwritten.
	if name != "" {
		if _, ok := c.preparedStatements[name]; ok {
			return c.sendInternalError(fmt.Sprintf("prepared statement %q already exists", name))
		}
	}

	query, err := buf.getString()
	if err != nil {
		return err
	}

	numParamTypes, err := buf.getInt16()
	if err != nil {
		return err
	}

	// Type hints for each parameter, this is not an indication of the number of
	// parameters that appear in the query string, only the number that the
	// frontend wants to prespecify types for.
	inTypeHints := make([]oid.Oid, numParamTypes)
	for i := range inTypeHints {
		typ, err := buf.getInt32()
		if err != nil {
			return err
		}
		inTypeHints[i] = oid.Oid(typ)
	}

	args := make(parser.MapArgs)
	for i, t := range inTypeHints {
		if t == 0 {
			continue
		}
		v, ok := oidToDatum[t]
		if !ok {
			return c.sendInternalError(fmt.Sprintf("unknown oid type: %v", t))
		}
		args[strconv.Itoa(i+1)] = v
	}

	cols, args, err := c.executor.Prepare(ctx, query, args)
	if err != nil {
		return c.sendInternalError(err.Error())
	}

	argTypes, err := paramTypes(inTypeHints, args)
	if err != nil {
		return c.sendInternalError(err.Error())
	}

	stmt := preparedStatement{
		query:    query,
		argTypes: argTypes,
		columns:  cols,
	}
	c.preparedStatements[name] = stmt
	c.writeBuf.initMsg(ServerMsgParseComplete)
	return c.writeBuf.finishMsg(c.w)
}

// paramTypes merges the client's type hints with the types the executor
// inferred for $1..$n. A hint wins over the inferred type since several
// OIDs share one datum type (text and varchar both map to DString).
func paramTypes(hints []oid.Oid, args parser.MapArgs) ([]oid.Oid, error) {
	n := len(hints)
	for k := range args {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.Errorf("non-integer parameter: %s", k)
		}
		if i < 1 {
			return nil, errors.Errorf("there is no parameter $%s", k)
		}
		if i > n {
			n = i
		}
	}

	types := make([]oid.Oid, n)
	copy(types, hints)
	for i := range types {
		if types[i] != 0 {
			continue
		}
		v, ok := args[strconv.Itoa(i+1)]
		if !ok {
			return nil, errors.Errorf("could not determine data type of parameter $%d", i+1)
		}
		id, ok := datumToOid[reflect.TypeOf(v)]
		if !ok {
			return nil, errors.Errorf("unknown datum type: %s", v.Type())
		}
		types[i] = id
	}
	return types, nil
}

func (c *pqConn) handleDescribe(buf *readBuffer) error {
	typ, err := buf.getPrepareType()
	if err != nil {
		return c.sendInternalError(err.Error())
	}

	name, err := buf.getString()
	if err != nil {
		return err
	}

	switch typ {
	case PrepareStatement:
		stmt, ok := c.preparedStatements[name]
		if !ok {
			return c.sendInternalError(fmt.Sprintf("unknown prepared statement %q", name))
		}

		c.writeBuf.initMsg(ServerMsgParameterDescription)
		c.writeBuf.putInt16(int16(len(stmt.argTypes)))

		for _, t := range stmt.argTypes {
			c.writeBuf.putInt32(int32(t))
		}
		if err := c.writeBuf.finishMsg(c.w); err != nil {
			return err
		}

		// Result formats are not known until Bind, describe them as text.
		return c.sendRowDescription(describeColumns(stmt.columns, FormatText))
	case PreparePortal:
		p, ok := c.portals[name]
		if !ok {
			return c.sendInternalError(fmt.Sprintf("unknown portal %q", name))
		}

		return c.sendRowDescription(describeColumns(p.stmt.columns, p.format))
	default:
		return errors.Errorf("unknown describe type: %c", typ)
	}
}

// handleClose close statement or portal
func (c *pqConn) handleClose(buf *readBuffer) error {
	typ, err := buf.getPrepareType()
	if err != nil {
		return c.sendInternalError(err.Error())
	}

	name, err := buf.getString()
	if err != nil {
		return err
	}

	switch typ {
	case PrepareStatement:
		delete(c.preparedStatements, name)
	case PreparePortal:
		delete(c.portals, name)
	default:
		return errors.Errorf("unknown close type: %c", typ)
	}

	c.writeBuf.initMsg(ServerMsgCloseComplete)
	return c.writeBuf.finishMsg(c.w)
}

// readFormatCodes reads a list of format codes for n values.
//
// From the docs on number of format codes to bind:
// This can be zero to indicate that there are no values or that the
// values all use the default format (text); or one, in which case the
// specified format code is applied to all values; or it can equal the
// actual number of values.
// http://www.postgresql.org/docs/current/static/protocol-message-formats.html
func readFormatCodes(buf *readBuffer, n int16) ([]FormatCode, error) {
	codes := make([]FormatCode, n)

	numCodes, err := buf.getInt16()
	if err != nil {
		return nil, err
	}

	switch numCodes {
	case 0:
	case 1:
		code, err := buf.getInt16()
		if err != nil {
			return nil, err
		}
		for i := range codes {
			codes[i] = FormatCode(code)
		}
	case n:
		for i := range codes {
			code, err := buf.getInt16()
			if err != nil {
				return nil, err
			}
			codes[i] = FormatCode(code)
		}
	default:
		return nil, errors.Errorf("expected 0, 1, or %d format codes, got %d", n, numCodes)
	}
	return codes, nil
}

// resultFormat collapses per-column format codes into the single format a
// DataRowBatch encodes with.
func resultFormat(codes []FormatCode) (FormatCode, error) {
	format := FormatText
	for i, code := range codes {
		if code != FormatText && code != FormatBinary {
			return format, errors.Errorf("unsupported format code %d", code)
		}
		if i > 0 && code != format {
			return format, errors.New("mixed result column format codes are not supported")
		}
		format = code
	}
	return format, nil
}

func (c *pqConn) handleBind(buf *readBuffer) error {
	portalName, err := buf.getString()
	if err != nil {
		return err
	}

	// Unnamed portal can be freely overwritten.
	if portalName != "" {
		if _, ok := c.portals[portalName]; ok {
			return c.sendInternalError(fmt.Sprintf("portal %q already exists", portalName))
		}
	}

	statementName, err := buf.getString()
	if err != nil {
		return err
	}

	stmt, ok := c.preparedStatements[statementName]
	if !ok {
		return c.sendInternalError(fmt.Sprintf("unknown prepared statement %q", statementName))
	}

	numParams := int16(len(stmt.argTypes))
	paramFormatCodes, err := readFormatCodes(buf, numParams)
	if err != nil {
		return c.sendInternalError(err.Error())
	}

	numValues, err := buf.getInt16()
	if err != nil {
		return err
	}
	if numParams != numValues {
		return c.sendInternalError(fmt.Sprintf("expected %d parameters, got %d", numParams, numValues))
	}

	params := make([]parser.Datum, numParams)
	for i, t := range stmt.argTypes {
		plen, err := buf.getInt32()
		if err != nil {
			return err
		}
		if plen == -1 {
			params[i] = parser.DNull
			continue
		}
		if plen < -1 {
			return c.sendError(sql.CodeProtocolViolation, fmt.Sprintf("param $%d: invalid length %d", i+1, plen))
		}
		b, err := buf.getBytes(int(plen))
		if err != nil {
			return err
		}
		d, err := decodeOidDatum(t, paramFormatCodes[i], b)
		if err != nil {
			return c.sendInternalError(fmt.Sprintf("param $%d: %s", i+1, err))
		}
		params[i] = d
	}

	columnFormatCodes, err := readFormatCodes(buf, int16(len(stmt.columns)))
	if err != nil {
		return c.sendInternalError(err.Error())
	}
	format, err := resultFormat(columnFormatCodes)
	if err != nil {
		return c.sendInternalError(err.Error())
	}

	c.portals[portalName] = portal{
		name:   statementName,
		stmt:   stmt,
		params: params,
		format: format,
	}

	c.writeBuf.initMsg(ServerMsgBindComplete)
	return c.writeBuf.finishMsg(c.w)
}

func (c *pqConn) handleExecute(ctx context.Context, buf *readBuffer) error {
	portalName, err := buf.getString()
	if err != nil {
		return err
	}

	portal, ok := c.portals[portalName]
	if !ok {
		return c.sendInternalError(fmt.Sprintf("unknown portal %q", portalName))
	}
	limit, err := buf.getInt32()
	if err != nil {
		return err
	}

	return c.executeStatements(ctx, portal.stmt.query, portal.params, portal.format, false, limit)
}

func (c *pqConn) executeStatements(
	ctx context.Context,
	stmts string,
	params []parser.Datum,
	format FormatCode,
	sendDescription bool,
	limit int32,
) error {
	results := c.executor.ExecuteStatements(ctx, stmts, params)
	if results.Empty {
		// Skip executor and just send EmptyQueryResponse
		c.writeBuf.initMsg(ServerMsgEmptyQuery)
		return c.writeBuf.finishMsg(c.w)
	}
	return c.sendResponse(results.ResultList, format, sendDescription, limit)
}

func (c *pqConn) sendCommandComplete(tag []byte) error {
	c.writeBuf.initMsg(ServerMsgCommandComplete)
	c.writeBuf.Write(tag)
	c.writeBuf.WriteByte(0)
	return c.writeBuf.finishMsg(c.w)
}

func (c *pqConn) sendResponse(results executor.ResultList, format FormatCode, sendDescription bool, limit int32) error {
	if len(results) == 0 {
		return c.sendCommandComplete(nil)
	}

	for _, result := range results {
		if result.Err != nil {
			return c.sendInternalError(result.Err.Error())
		}

		if limit != 0 && len(result.Rows) > int(limit) {
			if err := c.sendInternalError(fmt.Sprintf("execute row count limits not supported: %d of %d", limit, len(result.Rows))); err != nil {
				return err
			}
			break
		}

		if result.PGTag == "INSERT" {
			// From the postgres docs (49.5. Message Formats):
			// `INSERT oid rows`... oid is the object ID of the inserted row if
			//	rows is 1 and the target table has OIDs; otherwise oid is 0.
			result.PGTag = "INSERT 0"
		}
		tag := append(c.tagBuf[:0], result.PGTag...)

		switch result.Type {
		case executor.RowsAffected:
			tag = append(tag, ' ')
			tag = strconv.AppendInt(tag, int64(result.RowsAffected), 10)
			if err := c.sendCommandComplete(tag); err != nil {
				return err
			}
		case executor.Rows:
			desc := describeColumns(result.Columns, format)
			if sendDescription {
				if err := c.sendRowDescription(desc); err != nil {
					return err
				}
			}

			batch, err := encodeRows(desc, result.Rows)
			if err != nil {
				return c.sendInternalError(err.Error())
			}
			n, err := WriteBatch(c.w, batch)
			if err != nil {
				return err
			}
			c.metrics.rowsSent(batch.NumRows(), n)

			tag = append(tag, ' ')
			tag = strconv.AppendInt(tag, int64(batch.NumRows()), 10)
			if err := c.sendCommandComplete(tag); err != nil {
				return err
			}

		// Ack messages do not have a corresponding protobuf field, so handle those with default
		// This also includes DDLs which want CommandComplete as well
		default:
			if err := c.sendCommandComplete(tag); err != nil {
				return err
			}
		}
	}
	return nil
}

// describeColumns builds the row description of a result set.
func describeColumns(columns []executor.ResultColumn, format FormatCode) RowDescription {
	desc := RowDescription{
		Fields: make([]FieldDescription, len(columns)),
		Format: format,
	}
	for i, column := range columns {
		typ := typeForDatum(column.Typ)
		desc.Fields[i] = FieldDescription{
			Name:         column.Name,
			TypeOID:      typ.oid,
			TypeSize:     int16(typ.size),
			TypeModifier: -1,
		}
	}
	return desc
}

// encodeRows encodes rows into a new batch. A row whose value count does
// not match desc is a defect in the executor and panics.
func encodeRows(desc RowDescription, rows []executor.ResultRow) (*DataRowBatch, error) {
	batch := NewDataRowBatch(desc)
	for _, row := range rows {
		w := batch.CreateRow()
		for _, v := range row.Values {
			if err := writeDatum(w, v); err != nil {
				w.abandon()
				return nil, err
			}
		}
		w.Finish()
	}
	return batch, nil
}

func (c *pqConn) sendRowDescription(desc RowDescription) error {
	if len(desc.Fields) == 0 {
		c.writeBuf.initMsg(ServerMsgNoData)
		return c.writeBuf.finishMsg(c.w)
	}

	c.writeBuf.initMsg(ServerMsgRowDescription)
	c.writeBuf.putInt16(int16(len(desc.Fields)))

	for _, field := range desc.Fields {
		if err := c.writeBuf.writeString(field.Name); err != nil {
			return err
		}

		c.writeBuf.putInt32(int32(field.TableOID))
		c.writeBuf.putInt16(field.Column)
		c.writeBuf.putInt32(int32(field.TypeOID))
		c.writeBuf.putInt16(field.TypeSize)
		c.writeBuf.putInt32(field.TypeModifier)
		c.writeBuf.putInt16(int16(desc.Format))
	}

	return c.writeBuf.finishMsg(c.w)
}

func (c *pqConn) sendInternalError(errToSend string) error {
	return c.sendError(sql.CodeInternalError, errToSend)
}

func (c *pqConn) sendError(errCode, errToSend string) error {
	if c.extendedQueryMessage {
		c.ignoreTillSync = true
	}

	c.log.Debug("sending error", zap.String("code", errCode), zap.String("message", errToSend))

	c.writeBuf.initMsg(ServerMsgErrorResponse)
	for _, field := range [...]struct {
		typ   byte
		value string
	}{
		{'S', "ERROR"},
		{'C', errCode},
		{'M', errToSend},
	} {
		if err := c.writeBuf.WriteByte(field.typ); err != nil {
			return err
		}
		if err := c.writeBuf.writeString(field.value); err != nil {
			return err
		}
	}
	if err := c.writeBuf.WriteByte(0); err != nil {
		return err
	}
	if err := c.writeBuf.finishMsg(c.w); err != nil {
		return err
	}

	return c.w.Flush()
}

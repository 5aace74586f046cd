package libpq

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/yydzero/pgwire/executor"
	"go.uber.org/zap"
)

const (
	version30  = 0x30000
	versionSSL = 0x4D2162F
)

var sslUnsupported = []byte{'N'}

// Server implements the server side of the PostgreSQL wire protocol.
type Server struct {
	executor executor.Executor
	log      *zap.Logger
	metrics  *Metrics
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a server answering queries with e.
func NewServer(e executor.Executor, opts ...Option) *Server {
	s := &Server{
		executor: e,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsPQConnection returns true if rd appears to be a Postgres connection.
func IsPQConnection(rd io.Reader) bool {
	var buf readBuffer
	_, err := buf.readUntypedMsg(rd)
	if err != nil {
		return false
	}

	version, err := buf.getInt32()
	if err != nil {
		return false
	}
	return version == version30 || version == versionSSL
}

// Serve serves a single connection, driving the handshake process
// and delegating to the appropriate connection type.
func (s *Server) Serve(conn net.Conn) error {
	s.metrics.connOpened()
	defer s.metrics.connClosed()

	var buf readBuffer
	_, err := buf.readUntypedMsg(conn)
	if err != nil {
		return err
	}

	version, err := buf.getInt32()
	if err != nil {
		return err
	}

	// SSL is not supported, the client retries the startup in clear text
	// on the same connection.
	if version == versionSSL {
		if _, err := conn.Write(sslUnsupported); err != nil {
			return errors.Wrap(err, "ssl request")
		}
		if _, err := buf.readUntypedMsg(conn); err != nil {
			return err
		}
		if version, err = buf.getInt32(); err != nil {
			return err
		}
	}

	s.log.Debug("processed startup message", zap.Int32("version", version))

	if version == version30 {
		sessionArgs, argsErr := parseOptions(buf.msg, s.log)

		// Make a connection regardless of argsErr. If there was an error parsing
		// the args, the connection will only be used to send a report of that error.
		c := newPQConn(conn, s, sessionArgs)
		defer c.close()

		if argsErr != nil {
			return c.sendInternalError(argsErr.Error())
		}

		return c.serve(nil)
	}

	return errors.Errorf("unknown protocol version %d", version)
}

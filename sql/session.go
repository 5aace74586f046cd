package sql

import "net"

// ConnectionArgs are the startup parameters sent by a libpq client.
type ConnectionArgs struct {
	Database       string
	User           string
	ClientEncoding string
	DateStyle      string
}

// Session contains the state of a SQL client connection.
type Session struct {
	Database string
	User     string
	Remote   string

	TxnState txnState
}

type TxnStateEnum int

const (
	Idle TxnStateEnum = iota
	Open
	Aborted
)

// txnState contains state associated with an ongoing SQL txn.
type txnState struct {
	State TxnStateEnum
}

// NewSession creates and initializes new Session object. remote can be nil
func NewSession(args ConnectionArgs, remote net.Addr) *Session {
	s := Session{
		Database: args.Database,
		User:     args.User,
	}
	if remote != nil {
		s.Remote = remote.String()
	}
	return &s
}

// Package executor provides the interface the wire server uses to run SQL.
//
// An executor is stateful, so it belongs to a specific session, including
// database, user name and transaction status.
package executor

package ftp

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a Client that has been closed.
var ErrClosed = errors.New("ftp: client closed")

// ProtocolError represents a well-formed server reply that signals failure.
// It carries the full reply so callers can inspect the code and message.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "RMD /tmp/x").
	// Credential-bearing commands are redacted.
	Command string

	// Reply is the reply received from the server.
	Reply *Reply
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Reply.Message, e.Reply.Code)
}

// Code returns the numeric reply code.
func (e *ProtocolError) Code() int {
	return e.Reply.Code
}

// IsTemporary returns true if the error is a transient failure (4xx).
// This can be used to implement retry logic.
func (e *ProtocolError) IsTemporary() bool {
	return e.Reply.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Reply.Is5xx()
}

func newProtocolError(command string, reply *Reply) *ProtocolError {
	return &ProtocolError{Command: redactCommand(command), Reply: reply}
}

// FormatError is returned when a reply line does not start with a
// well-formed status code. It is fatal to the current exchange.
type FormatError struct {
	Line string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("ftp: malformed reply line %q", e.Line)
}

// ArgumentError reports caller misuse, such as a blank path.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("ftp: invalid argument %s: %s", e.Name, e.Reason)
}

// UnsupportedEntryKindError is returned when a listing produces an entry
// the deletion engine cannot dispatch.
type UnsupportedEntryKindError struct {
	Path string
	Kind EntryKind
}

func (e *UnsupportedEntryKindError) Error() string {
	return fmt.Sprintf("ftp: don't know how to delete %s (kind %s)", e.Path, e.Kind)
}

// NotConnectedError is returned when a command was issued on a disconnected
// client and the implicit reconnect failed.
type NotConnectedError struct {
	Err error
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("ftp: not connected: reconnect failed: %v", e.Err)
}

func (e *NotConnectedError) Unwrap() error {
	return e.Err
}

// TransferFailedError reports a socket-level failure on the control
// connection. After it is returned the client is disconnected.
type TransferFailedError struct {
	Command string
	Err     error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("ftp: %s: %v", e.Command, e.Err)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}

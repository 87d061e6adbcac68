package ftp

import (
	"context"
	"strings"
)

// DeleteOutcome is the result of a server-specific delete attempt.
type DeleteOutcome int

const (
	// DeleteUnsupported means the handler did nothing and the generic
	// algorithm must run.
	DeleteUnsupported DeleteOutcome = iota

	// DeleteHandled means the handler removed the directory completely.
	DeleteHandled
)

// ServerHandler implements server-specific shortcuts. A handler must leave
// the server in the same state the generic algorithm would.
type ServerHandler interface {
	// DeleteDirectory may remove dir natively (and its contents if
	// deleteContents is set). originalPath is the path as the caller
	// passed it before normalization.
	DeleteDirectory(ctx context.Context, c *Client, dir, originalPath string, deleteContents bool, opts ListOptions) (DeleteOutcome, error)
}

// NoServerHandler always defers to the generic algorithms.
type NoServerHandler struct{}

// DeleteDirectory implements ServerHandler.
func (NoServerHandler) DeleteDirectory(context.Context, *Client, string, string, bool, ListOptions) (DeleteOutcome, error) {
	return DeleteUnsupported, nil
}

// ProFTPDHandler removes directory trees with ProFTPD's recursive
// "SITE RMDIR" (mod_site_misc). When the module is not loaded the server
// rejects the command and the generic algorithm takes over.
type ProFTPDHandler struct{}

// DeleteDirectory implements ServerHandler.
func (ProFTPDHandler) DeleteDirectory(ctx context.Context, c *Client, dir, _ string, deleteContents bool, _ ListOptions) (DeleteOutcome, error) {
	if !deleteContents {
		return DeleteUnsupported, nil
	}

	reply, err := c.ExecuteContext(ctx, "SITE RMDIR "+dir)
	if err != nil {
		return DeleteUnsupported, err
	}
	if !reply.Success() {
		c.logger.Debug("SITE RMDIR rejected, falling back to generic delete", "code", reply.Code, "path", dir)
		return DeleteUnsupported, nil
	}
	return DeleteHandled, nil
}

// detectServerHandler picks a handler from the server greeting.
func detectServerHandler(greeting *Reply) ServerHandler {
	switch {
	case strings.Contains(greeting.Message, "ProFTPD"):
		return ProFTPDHandler{}
	default:
		return NoServerHandler{}
	}
}

package ftp

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

// DeleteOptions controls DeleteDirectory.
type DeleteOptions struct {
	// List is passed to the lister. With List.Recursive the listing is
	// trusted to contain every descendant and directories found in it are
	// not listed again.
	List ListOptions

	// SkipContents removes only the directory itself, which the server
	// will refuse unless it is empty.
	SkipContents bool
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, remotePath string) error {
	if strings.TrimSpace(remotePath) == "" {
		return &ArgumentError{Name: "path", Reason: "required parameter is blank"}
	}
	_, err := c.expectSuccess(ctx, "DELE "+normalizePath(remotePath))
	return err
}

// RemoveDir removes a single, empty directory.
func (c *Client) RemoveDir(ctx context.Context, dir string) error {
	return c.DeleteDirectory(ctx, dir, DeleteOptions{SkipContents: true})
}

// DeleteDirectory removes a directory and, unless opts.SkipContents is
// set, everything below it.
//
// The server handler is offered each directory first; otherwise contents
// are listed and removed deepest first, files before directories. The
// server root and the working directory ("/" and ".") are emptied but
// never removed themselves.
//
// The first failing command stops the deletion and is returned as a
// *ProtocolError. Entries deleted before the failure stay deleted.
//
// Example:
//
//	err := client.DeleteDirectory(ctx, "/tmp/build", ftp.DeleteOptions{
//	    List: ftp.ListOptions{ShowHidden: true},
//	})
func (c *Client) DeleteDirectory(ctx context.Context, dir string, opts DeleteOptions) error {
	if strings.TrimSpace(dir) == "" {
		return &ArgumentError{Name: "path", Reason: "required parameter is blank"}
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.logger.Debug("deleting directory", "path", dir, "contents", !opts.SkipContents, "recursive_listing", opts.List.Recursive)
	return c.deleteTree(ctx, dir, opts)
}

// deleteFrame is one directory on the deletion stack.
type deleteFrame struct {
	path         string
	originalPath string
	contents     bool
	started      bool
	entries      []TreeEntry
	next         int
}

// deleteTree walks the tree depth-first with an explicit stack so that
// pathologically deep trees cannot exhaust the goroutine stack.
func (c *Client) deleteTree(ctx context.Context, dir string, opts DeleteOptions) error {
	// A recursive listing already flattened the tree.
	recurse := !opts.List.Recursive

	stack := []*deleteFrame{{
		path:         normalizePath(dir),
		originalPath: dir,
		contents:     !opts.SkipContents,
	}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]

		if !f.started {
			f.started = true
			handled, err := c.startFrame(ctx, f, opts.List)
			if err != nil {
				return err
			}
			if handled {
				stack = stack[:len(stack)-1]
				continue
			}
		}

		if f.next < len(f.entries) {
			entry := f.entries[f.next]
			f.next++

			switch entry.Kind {
			case KindFile:
				if err := c.DeleteFile(ctx, entry.FullName); err != nil {
					return err
				}
			case KindDirectory:
				stack = append(stack, &deleteFrame{
					path:         normalizePath(entry.FullName),
					originalPath: entry.FullName,
					contents:     recurse,
				})
			default:
				return &UnsupportedEntryKindError{Path: entry.FullName, Kind: entry.Kind}
			}
			continue
		}

		stack = stack[:len(stack)-1]
		if isRootPath(f.path) {
			c.logger.Debug("not removing root directory", "path", f.path)
			continue
		}
		if _, err := c.expectSuccess(ctx, "RMD "+f.path); err != nil {
			return err
		}
	}
	return nil
}

// startFrame offers the directory to the server handler and, if it is not
// handled natively, loads and orders its contents.
func (c *Client) startFrame(ctx context.Context, f *deleteFrame, listOpts ListOptions) (handled bool, err error) {
	if !isRootPath(f.path) && c.handler != nil {
		outcome, err := c.handler.DeleteDirectory(ctx, c, f.path, f.originalPath, f.contents, listOpts)
		if err != nil {
			return false, err
		}
		if outcome == DeleteHandled {
			c.logger.Debug("directory deleted by server handler", "path", f.path)
			return true, nil
		}
	}

	if !f.contents {
		return false, nil
	}

	entries, err := c.lister().List(ctx, f.path, listOpts)
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", f.path, err)
	}
	slices.SortStableFunc(entries, compareForDeletion)
	f.entries = entries
	return false, nil
}

// compareForDeletion orders entries so that deeper paths come first and,
// at equal depth, files come before directories. Removing entries in this
// order never removes a directory before its contents.
func compareForDeletion(a, b TreeEntry) int {
	if c := cmp.Compare(pathDepth(b.FullName), pathDepth(a.FullName)); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

func pathDepth(p string) int {
	return strings.Count(p, "/")
}

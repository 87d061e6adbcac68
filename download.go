package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ftpkit/ftp/internal/ratelimit"
)

// Progress describes the state of a download after a chunk was written.
type Progress struct {
	// BytesTransferred counts the bytes received by this call
	BytesTransferred int64

	// Position is the offset in the remote file: restart offset plus
	// BytesTransferred
	Position int64

	// FileSize is the remote file size, or -1 if the server did not say
	FileSize int64

	// Percent is Position relative to FileSize, or -1 if unknown
	Percent float64

	// Speed is the average rate of this call in bytes per second
	Speed float64

	// ETA is the estimated time left, zero if unknown
	ETA time.Duration
}

// ProgressFunc receives download progress once per chunk. It runs on the
// downloading goroutine, so it must return quickly.
type ProgressFunc func(Progress)

// transferCursor tracks the position of one download. The offset only
// grows.
type transferCursor struct {
	offset    int64
	chunkSize int
}

func (tc *transferCursor) advance(n int) {
	tc.offset += int64(n)
}

// DownloadStream downloads remotePath into w in chunks, starting at
// restartOffset. With a positive offset the server is asked to resume
// (REST) before any data is read, and w is expected to already hold the
// first restartOffset bytes.
//
// It returns false without error when the server reports the file as
// unavailable (550), and true once the transfer completed. If ctx is
// cancelled, w keeps the bytes received so far and the control
// connection is dropped; the next command reconnects.
//
// Example:
//
//	f, _ := os.OpenFile("large.bin", os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
//	info, _ := f.Stat()
//	ok, err := client.DownloadStream(ctx, f, "/pub/large.bin", info.Size(), func(p ftp.Progress) {
//	    fmt.Printf("\r%.1f%%", p.Percent)
//	})
func (c *Client) DownloadStream(ctx context.Context, w io.Writer, remotePath string, restartOffset int64, progress ProgressFunc) (bool, error) {
	if w == nil {
		return false, &ArgumentError{Name: "w", Reason: "required parameter is nil"}
	}
	if strings.TrimSpace(remotePath) == "" {
		return false, &ArgumentError{Name: "remotePath", Reason: "required parameter is blank"}
	}
	if restartOffset < 0 {
		return false, &ArgumentError{Name: "restartOffset", Reason: "must not be negative"}
	}

	remotePath = normalizePath(remotePath)
	c.logger.Debug("downloading", "path", remotePath, "offset", restartOffset)

	if err := c.Type(ctx, "I"); err != nil {
		return false, fmt.Errorf("failed to set binary mode: %w", err)
	}

	fileSize := int64(-1)
	if size, err := c.Size(ctx, remotePath); err == nil {
		fileSize = size
	} else if !isProtocolError(err) {
		return false, err
	}

	if fileSize >= 0 && restartOffset > 0 {
		if restartOffset > fileSize {
			return false, &ArgumentError{Name: "restartOffset", Reason: fmt.Sprintf("%d is beyond the end of the remote file (%d bytes)", restartOffset, fileSize)}
		}
		if restartOffset == fileSize {
			c.logger.Debug("nothing to resume, local copy is complete", "path", remotePath)
			if progress != nil {
				progress(newProgress(0, restartOffset, fileSize, 0))
			}
			return true, nil
		}
	}

	return c.retrieve(ctx, w, remotePath, transferCursor{offset: restartOffset, chunkSize: c.cfg.ChunkSize}, fileSize, progress)
}

func (c *Client) retrieve(ctx context.Context, w io.Writer, remotePath string, cursor transferCursor, fileSize int64, progress ProgressFunc) (bool, error) {
	resume := c.SuspendStaleDataCheck()
	defer resume()

	t, reply, err := c.openTransfer(ctx, "RETR "+remotePath, cursor.offset)
	if err != nil {
		if reply != nil && reply.Code == 550 {
			c.logger.Debug("remote file not available", "path", remotePath, "message", reply.Message)
			return false, nil
		}
		return false, err
	}

	// Closing the data connection is the only reliable way to interrupt a
	// blocked read.
	stopWatch := context.AfterFunc(ctx, func() { _ = t.conn.Close() })
	defer stopWatch()

	start := time.Now()
	restartOffset := cursor.offset
	src := ratelimit.NewReader(ctx, t.conn, c.limiter)
	buf := make([]byte, cursor.chunkSize)

	var copyErr error
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				copyErr = fmt.Errorf("failed to write to sink: %w", werr)
				break
			}
			cursor.advance(n)
			if progress != nil {
				progress(newProgress(cursor.offset-restartOffset, cursor.offset, fileSize, time.Since(start)))
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			copyErr = fmt.Errorf("download failed: %w", err)
			break
		}
	}

	received := cursor.offset - restartOffset
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordTransfer("RETR", received, time.Since(start))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = t.conn.Close()
		c.teardown()
		c.logger.Debug("download cancelled", "path", remotePath, "received", received)
		return false, ctxErr
	}
	if copyErr != nil {
		_ = t.conn.Close()
		c.teardown()
		return false, copyErr
	}

	if err := c.finishTransfer(ctx, t); err != nil {
		return false, err
	}

	c.logger.Debug("download complete", "path", remotePath, "bytes", received)
	return true, nil
}

func newProgress(transferred, position, fileSize int64, elapsed time.Duration) Progress {
	p := Progress{
		BytesTransferred: transferred,
		Position:         position,
		FileSize:         fileSize,
		Percent:          -1,
	}
	if elapsed > 0 {
		p.Speed = float64(transferred) / elapsed.Seconds()
	}
	if fileSize > 0 {
		p.Percent = float64(position) / float64(fileSize) * 100
		if p.Speed > 0 && position < fileSize {
			p.ETA = time.Duration(float64(fileSize-position) / p.Speed * float64(time.Second))
		}
	} else if fileSize == 0 {
		p.Percent = 100
	}
	return p
}

func isProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// DownloadMode selects how DownloadFile treats an existing local file.
type DownloadMode int

const (
	// DownloadOverwrite truncates the local file and downloads everything.
	DownloadOverwrite DownloadMode = iota

	// DownloadResume appends to the local file, resuming the remote file
	// at the local file's size.
	DownloadResume
)

// DownloadFile downloads remotePath to localPath. In overwrite mode the
// data goes to a temporary file next to localPath that replaces it only
// once the download succeeds, so an existing local file survives a
// missing remote file or a failed transfer. In resume mode the local file
// is appended to and kept on failure so the next attempt can continue
// from it.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string, mode DownloadMode, progress ProgressFunc) (bool, error) {
	if strings.TrimSpace(localPath) == "" {
		return false, &ArgumentError{Name: "localPath", Reason: "required parameter is blank"}
	}
	if mode == DownloadResume {
		return c.resumeFile(ctx, remotePath, localPath, progress)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return false, fmt.Errorf("failed to create local file: %w", err)
	}
	tmpPath := tmp.Name()

	ok, err := c.DownloadStream(ctx, tmp, remotePath, 0, progress)
	closeErr := tmp.Close()

	switch {
	case err != nil:
		_ = os.Remove(tmpPath)
		return false, err
	case !ok:
		_ = os.Remove(tmpPath)
		return false, nil
	case closeErr != nil:
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to close local file: %w", closeErr)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to set local file mode: %w", err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("failed to replace local file: %w", err)
	}
	return true, nil
}

// resumeFile appends the rest of remotePath to localPath. A local file
// created by this call is removed again if the remote file is missing.
func (c *Client) resumeFile(ctx context.Context, remotePath, localPath string, progress ProgressFunc) (bool, error) {
	_, statErr := os.Stat(localPath)
	existed := statErr == nil

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open local file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return false, fmt.Errorf("failed to stat local file: %w", err)
	}

	ok, err := c.DownloadStream(ctx, f, remotePath, info.Size(), progress)
	closeErr := f.Close()

	switch {
	case err != nil:
		return false, err
	case !ok && !existed:
		_ = os.Remove(localPath)
		return false, nil
	case closeErr != nil:
		return false, fmt.Errorf("failed to close local file: %w", closeErr)
	}
	return ok, nil
}

// DownloadJob is one file for DownloadFiles.
type DownloadJob struct {
	RemotePath string
	LocalPath  string
	Mode       DownloadMode
}

// DownloadFiles downloads jobs using up to parallelism clones of c, each
// with its own control connection. The returned slice reports, per job,
// whether the file was downloaded. The first error cancels the remaining
// jobs. c itself is not used for transfers and may stay idle.
func (c *Client) DownloadFiles(ctx context.Context, jobs []DownloadJob, parallelism int) ([]bool, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	parallelism = min(parallelism, len(jobs))

	results := make([]bool, len(jobs))
	queue := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for i := range jobs {
			select {
			case queue <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range parallelism {
		worker := c.Clone()
		g.Go(func() error {
			defer worker.Close()
			for i := range queue {
				job := jobs[i]
				ok, err := worker.DownloadFile(gctx, job.RemotePath, job.LocalPath, job.Mode, nil)
				if err != nil {
					return fmt.Errorf("%s: %w", job.RemotePath, err)
				}
				results[i] = ok
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

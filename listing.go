package ftp

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// EntryKind is the type of a directory entry. Kinds are ordered: files
// sort before directories, which sort before links.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindLink
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "dir"
	case KindLink:
		return "link"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// TreeEntry is one entry of a directory listing.
type TreeEntry struct {
	// FullName is the entry's path: the listed directory joined with Name
	FullName string
	Name     string
	Kind     EntryKind
	Size     int64
}

// ListOptions controls how a directory is enumerated.
type ListOptions struct {
	// Recursive returns every descendant, not just direct children,
	// in a single call.
	Recursive bool

	// ShowHidden includes dot-files (LIST -a).
	ShowHidden bool

	// ForceList uses LIST even when the server supports MLSD.
	ForceList bool
}

// Lister enumerates a directory. Entries must carry their full path.
type Lister interface {
	List(ctx context.Context, dir string, opts ListOptions) ([]TreeEntry, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context, dir string, opts ListOptions) ([]TreeEntry, error)

// List calls f.
func (f ListerFunc) List(ctx context.Context, dir string, opts ListOptions) ([]TreeEntry, error) {
	return f(ctx, dir, opts)
}

// List enumerates dir with the client's lister.
//
// Example:
//
//	entries, err := client.List(ctx, "/pub", ftp.ListOptions{ShowHidden: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range entries {
//	    fmt.Printf("%s (%s, %d bytes)\n", e.FullName, e.Kind, e.Size)
//	}
func (c *Client) List(ctx context.Context, dir string, opts ListOptions) ([]TreeEntry, error) {
	return c.lister().List(ctx, normalizePath(dir), opts)
}

func (c *Client) lister() Lister {
	if c.cfg.Lister != nil {
		return c.cfg.Lister
	}
	return commandLister{c: c}
}

// commandLister lists directories over the client's own connection using
// MLSD when the server advertises MLST, and LIST otherwise. Recursive
// listings are flattened on the client, parents before children.
type commandLister struct {
	c *Client
}

func (l commandLister) List(ctx context.Context, dir string, opts ListOptions) ([]TreeEntry, error) {
	if !opts.Recursive {
		return l.listDir(ctx, dir, opts)
	}

	var all []TreeEntry
	pending := []string{dir}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := l.listDir(ctx, current, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)

		// Push in reverse so children are visited in listing order
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Kind == KindDirectory {
				pending = append(pending, entries[i].FullName)
			}
		}
	}
	return all, nil
}

func (l commandLister) listDir(ctx context.Context, dir string, opts ListOptions) ([]TreeEntry, error) {
	useMLSD := !opts.ForceList && l.c.HasFeature(ctx, "MLST")

	var command string
	switch {
	case useMLSD:
		command = cmdLine("MLSD", dir)
	case opts.ShowHidden:
		command = cmdLine("LIST -a", dir)
	default:
		command = cmdLine("LIST", dir)
	}

	if err := l.c.Type(ctx, "A"); err != nil {
		return nil, fmt.Errorf("failed to set ASCII mode: %w", err)
	}

	t, _, err := l.c.openTransfer(ctx, command, 0)
	if err != nil {
		return nil, err
	}

	var entries []TreeEntry
	scanner := bufio.NewScanner(t.conn)
	for scanner.Scan() {
		var entry TreeEntry
		var ok bool
		if useMLSD {
			entry, ok = parseMLSDLine(scanner.Text())
		} else {
			entry, ok = parseListLine(scanner.Text())
		}
		if !ok {
			continue
		}
		// MLSD always includes dot-files; LIST only does with -a
		if useMLSD && !opts.ShowHidden && strings.HasPrefix(entry.Name, ".") {
			continue
		}
		entry.FullName = path.Join(dir, entry.Name)
		entries = append(entries, entry)
	}

	scanErr := scanner.Err()
	if err := l.c.finishTransfer(ctx, t); err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read directory listing: %w", scanErr)
	}
	return entries, nil
}

// parseMLSDLine parses an RFC 3659 machine listing line:
// "type=file;size=42;modify=20240101000000; name".
// The cdir and pdir entries are skipped.
func parseMLSDLine(line string) (TreeEntry, bool) {
	facts, name, ok := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	if !ok || name == "" {
		return TreeEntry{}, false
	}

	entry := TreeEntry{Name: name, Kind: KindFile}
	for fact := range strings.SplitSeq(facts, ";") {
		key, value, ok := strings.Cut(fact, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "type":
			switch t := strings.ToLower(value); {
			case t == "cdir" || t == "pdir":
				return TreeEntry{}, false
			case t == "dir":
				entry.Kind = KindDirectory
			case strings.HasPrefix(t, "os.unix=slink") || strings.HasPrefix(t, "os.unix=symlink"):
				entry.Kind = KindLink
			}
		case "size":
			entry.Size, _ = strconv.ParseInt(value, 10, 64)
		}
	}
	return entry, true
}

// parseListLine parses one line of a LIST reply in Unix or DOS format.
// Unknown formats, blank lines, "total" lines and the "." and ".."
// entries are skipped.
func parseListLine(line string) (TreeEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return TreeEntry{}, false
	}

	var entry TreeEntry
	var ok bool
	if isDOSDate(fields[0]) {
		entry, ok = parseDOSFields(fields)
	} else {
		entry, ok = parseUnixFields(fields)
	}
	if !ok || entry.Name == "." || entry.Name == ".." {
		return TreeEntry{}, false
	}
	return entry, true
}

// parseUnixFields handles the 9-field ("perms links owner group size
// month day time name") and 8-field (no group) layouts.
func parseUnixFields(fields []string) (TreeEntry, bool) {
	perms := fields[0]
	if len(perms) < 10 || !strings.ContainsRune("-dlbcps", rune(perms[0])) {
		return TreeEntry{}, false
	}

	var entry TreeEntry
	switch perms[0] {
	case 'd':
		entry.Kind = KindDirectory
	case 'l':
		entry.Kind = KindLink
	default:
		entry.Kind = KindFile
	}

	nameIdx := -1
	for _, layout := range [][2]int{{4, 8}, {3, 7}} {
		sizeIdx, idx := layout[0], layout[1]
		if len(fields) <= idx {
			continue
		}
		if size, err := strconv.ParseInt(fields[sizeIdx], 10, 64); err == nil {
			entry.Size = size
			nameIdx = idx
			break
		}
	}
	if nameIdx < 0 {
		return TreeEntry{}, false
	}

	entry.Name = strings.Join(fields[nameIdx:], " ")
	if entry.Kind == KindLink {
		if name, _, found := strings.Cut(entry.Name, " -> "); found {
			entry.Name = name
		}
	}
	return entry, true
}

// parseDOSFields handles "MM-DD-YY HH:MMAM <DIR>|size name" lines.
func parseDOSFields(fields []string) (TreeEntry, bool) {
	entry := TreeEntry{Name: strings.Join(fields[3:], " ")}
	if fields[2] == "<DIR>" {
		entry.Kind = KindDirectory
		return entry, true
	}

	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return TreeEntry{}, false
	}
	entry.Kind = KindFile
	entry.Size = size
	return entry, true
}

// isDOSDate checks if a string looks like a DOS/Windows date format.
// Common formats: MM-DD-YY, MM-DD-YYYY, MM/DD/YY, MM/DD/YYYY
func isDOSDate(s string) bool {
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}

	for i, part := range parts {
		switch {
		case i < 2 && (len(part) < 1 || len(part) > 2):
			return false
		case i == 2 && len(part) != 2 && len(part) != 4:
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

// normalizePath converts a caller supplied path to FTP form: forward
// slashes, no duplicate or trailing separators. A blank path is the
// working directory.
func normalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

// isRootPath reports whether p is the server root or the working
// directory, neither of which can be removed.
func isRootPath(p string) bool {
	return p == "/" || p == "."
}

package ftp

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Reply represents an FTP server reply.
type Reply struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the human-readable message from the server
	Message string

	// Lines contains all lines of the reply (for multi-line replies)
	Lines []string
}

// Success reports whether the reply is a positive preliminary (1xx) or
// positive completion (2xx) reply. Positive intermediate replies (3xx)
// are not successes on their own; commands that expect one check for it.
func (r *Reply) Success() bool {
	return r.Is1xx() || r.Is2xx()
}

// Is1xx returns true if the reply code is in the 1xx range (preliminary).
func (r *Reply) Is1xx() bool {
	return r.Code >= 100 && r.Code < 200
}

// Is2xx returns true if the reply code is in the 2xx range (success).
func (r *Reply) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the reply code is in the 3xx range (intermediate).
func (r *Reply) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// Is4xx returns true if the reply code is in the 4xx range (temporary failure).
func (r *Reply) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the reply code is in the 5xx range (permanent failure).
func (r *Reply) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// String returns the full reply as a string.
func (r *Reply) String() string {
	return strings.Join(r.Lines, "\n")
}

// ParseReply parses a single reply line such as "226 Transfer complete".
// Trailing CR/LF is ignored. The line must start with three digits
// followed by a space, a '-' (multi-line marker) or nothing at all.
func ParseReply(line []byte) (*Reply, error) {
	s := strings.TrimRight(string(line), "\r\n")
	code, sep, ok := splitCode(s)
	if !ok {
		return nil, &FormatError{Line: s}
	}

	msg := ""
	if sep != 0 {
		msg = s[4:]
	}
	return &Reply{Code: code, Message: msg, Lines: []string{s}}, nil
}

// splitCode extracts the status code and the separator that follows it.
// sep is 0 when the line holds only the code.
func splitCode(s string) (code int, sep byte, ok bool) {
	if len(s) < 3 {
		return 0, 0, false
	}
	for i := range 3 {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, false
		}
		code = code*10 + int(s[i]-'0')
	}
	if code < 100 {
		return 0, 0, false
	}
	if len(s) == 3 {
		return code, 0, true
	}
	if s[3] != ' ' && s[3] != '-' {
		return 0, 0, false
	}
	return code, s[3], true
}

// readReply reads a complete FTP reply from the reader.
// It handles both single-line and multi-line replies.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	"220-This is line 2\r\n"
//	"220 Ready\r\n"
//
// The reply is complete when a line starts with the code followed by a
// space, or holds only the code.
func readReply(r *bufio.Reader) (*Reply, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}

	line = strings.TrimRight(line, "\r\n")
	code, sep, ok := splitCode(line)
	if !ok {
		return nil, &FormatError{Line: line}
	}

	if sep != '-' {
		reply, _ := ParseReply([]byte(line))
		return reply, nil
	}

	lines := []string{line}
	if err := readContinuation(r, line[:3], &lines); err != nil {
		return nil, err
	}

	codeStr := line[:3]
	var messageLines []string
	for _, l := range lines {
		switch {
		case len(l) > 0 && l[0] == ' ':
			messageLines = append(messageLines, strings.TrimSpace(l))
		case l == codeStr:
		case len(l) >= 4 && l[:3] == codeStr && (l[3] == ' ' || l[3] == '-'):
			if len(l) > 4 {
				messageLines = append(messageLines, l[4:])
			}
		case l != "":
			messageLines = append(messageLines, l)
		}
	}

	return &Reply{
		Code:    code,
		Message: strings.Join(messageLines, "\n"),
		Lines:   lines,
	}, nil
}

func readContinuation(r *bufio.Reader, codeStr string, lines *[]string) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		*lines = append(*lines, line)

		// RFC 2389 style continuation lines start with a space
		if len(line) > 0 && line[0] == ' ' {
			continue
		}

		// A bare code closes the reply like "NNN " does
		if line == codeStr {
			return nil
		}

		// Lines that do not repeat the code are free text inside the reply
		if len(line) < 4 || line[0:3] != codeStr {
			continue
		}

		if line[3] == ' ' {
			return nil
		}
	}
}

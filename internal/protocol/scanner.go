package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes bounds a single NDJSON line.
const MaxLineBytes = 1 << 20

// Scanner reads NDJSON events from a stream. Each call to Next advances to the
// next non-blank line, which yields either an Event or a LineError.
type Scanner struct {
	r     *bufio.Reader
	buf   []byte
	mode  Mode
	line  int
	event Event
	lerr  *LineError
	err   error
	done  bool
}

// NewScanner wraps r. A line longer than MaxLineBytes is reported as a parse
// error and skipped; scanning continues with the next line.
func NewScanner(r io.Reader, mode Mode) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024), mode: mode}
}

// Next advances to the next non-blank line. It returns false at end of input
// or on a read error.
func (s *Scanner) Next() bool {
	s.event, s.lerr = nil, nil
	for !s.done {
		line, oversized, err := s.readLine()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}
		s.line++
		if oversized {
			s.lerr = &LineError{Line: s.line, Kind: KindParse, Reason: fmt.Sprintf("line exceeds %d bytes", MaxLineBytes)}
			return true
		}
		ev, lerr := Decode(line, s.line, s.mode)
		if ev == nil && lerr == nil {
			continue
		}
		s.event, s.lerr = ev, lerr
		return true
	}
	return false
}

// readLine returns the next line without its terminator. The content of an
// oversized line is discarded up to its newline. The returned slice is only
// valid until the next call.
func (s *Scanner) readLine() ([]byte, bool, error) {
	s.buf = s.buf[:0]
	oversized := false
	for {
		chunk, err := s.r.ReadSlice('\n')
		n := len(chunk)
		if err == nil {
			n--
		}
		if !oversized && len(s.buf)+n > MaxLineBytes {
			oversized = true
			s.buf = s.buf[:0]
		}
		if !oversized {
			s.buf = append(s.buf, chunk...)
		}
		switch {
		case err == nil:
			return bytes.TrimRight(s.buf, "\r\n"), oversized, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(s.buf) == 0 && !oversized {
				return nil, false, io.EOF
			}
			// Unterminated final line; the next call reports EOF.
			return bytes.TrimRight(s.buf, "\r"), oversized, nil
		default:
			return nil, false, err
		}
	}
}

// Event returns the event decoded by the last Next, or nil if the line was rejected.
func (s *Scanner) Event() Event { return s.event }

// LineError returns the rejection for the last line, or nil.
func (s *Scanner) LineError() *LineError { return s.lerr }

// Line returns the 1-based number of the last line read.
func (s *Scanner) Line() int { return s.line }

// Err returns the first non-EOF read error.
func (s *Scanner) Err() error { return s.err }

// ValidateReader runs every line of r through Decode and collects the report.
func ValidateReader(r io.Reader, mode Mode) (Report, error) {
	report := Report{Errors: []LineError{}}
	scanner := NewScanner(r, mode)
	for scanner.Next() {
		report.Lines++
		if lerr := scanner.LineError(); lerr != nil {
			report.Errors = append(report.Errors, *lerr)
		}
	}
	report.Valid = len(report.Errors) == 0
	return report, scanner.Err()
}

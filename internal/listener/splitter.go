package listener

import (
	"bytes"
	"log/slog"
)

// Splitter turns a byte stream into filenames. A filename ends at '\n' or '\0';
// bytes after the last delimiter are held until the next Feed so a name split
// across reads is reassembled before it is emitted.
type Splitter struct {
	pending []byte
	maxLen  int
	// skipping is set while discarding the rest of an over-long name
	skipping bool
}

func NewSplitter(maxLen int) *Splitter {
	return &Splitter{maxLen: maxLen}
}

// Feed consumes chunk and returns the filenames it completed.
func (s *Splitter) Feed(chunk []byte) []string {
	var names []string
	for len(chunk) > 0 {
		i := bytes.IndexAny(chunk, "\n\x00")
		if i < 0 {
			s.hold(chunk)
			break
		}
		s.hold(chunk[:i])
		if name, ok := s.take(); ok {
			names = append(names, name)
		}
		chunk = chunk[i+1:]
	}
	return names
}

// Flush returns a trailing name that never saw a delimiter. Called at end of
// session.
func (s *Splitter) Flush() (string, bool) {
	return s.take()
}

// Pending reports how many bytes are buffered waiting for a delimiter.
func (s *Splitter) Pending() int {
	return len(s.pending)
}

func (s *Splitter) hold(b []byte) {
	if s.skipping {
		return
	}
	if s.maxLen > 0 && len(s.pending)+len(b) > s.maxLen {
		slog.Warn("Discarding filename longer than limit", "limit", s.maxLen, "prefix", string(s.pending))
		s.pending = s.pending[:0]
		s.skipping = true
		return
	}
	s.pending = append(s.pending, b...)
}

func (s *Splitter) take() (string, bool) {
	if s.skipping {
		s.skipping = false
		return "", false
	}
	name := string(bytes.TrimSuffix(s.pending, []byte("\r")))
	s.pending = s.pending[:0]
	if name == "" {
		return "", false
	}
	return name, true
}

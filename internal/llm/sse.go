package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseScanner reads server-sent-event data lines from a response body.
// Both upstream APIs frame their streams as "data: {...}" lines.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	sc := bufio.NewScanner(r)
	// Tool-call argument fragments can make individual frames large.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseScanner{scanner: sc}
}

// Next returns the payload of the next data line, skipping blank lines
// and non-data fields (event:, id:). ok is false at end of stream.
func (s *sseScanner) Next() (data string, ok bool) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		return strings.TrimPrefix(line, "data: "), true
	}
	return "", false
}

func (s *sseScanner) Err() error {
	return s.scanner.Err()
}

package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// frame is one parsed server-sent event: a named event plus its data payload.
type frame struct {
	name string
	data []byte
}

// frameReader incrementally parses text/event-stream framing. Comment lines
// and the id/retry fields are ignored; retry hints from the server do not
// override the channel's configured backoff.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return &frameReader{scanner: scanner}
}

// Next blocks until a complete event frame arrives. It returns io.EOF when
// the stream closes normally and the scanner's error otherwise.
func (r *frameReader) Next() (frame, error) {
	var name string
	var data bytes.Buffer
	seen := false

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if !seen {
				continue
			}
			return frame{name: name, data: bytes.TrimSuffix(data.Bytes(), []byte("\n"))}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
			seen = true
		case "data":
			data.WriteString(value)
			data.WriteString("\n")
			seen = true
		case "id", "retry":
			// Ignored; reconnection policy is owned by the channel.
		}
	}

	if err := r.scanner.Err(); err != nil {
		return frame{}, err
	}
	if seen {
		return frame{name: name, data: bytes.TrimSuffix(data.Bytes(), []byte("\n"))}, nil
	}
	return frame{}, io.EOF
}

// Package stream implements the client side of the search-progress event
// stream: a single-connection SSE consumer that dispatches stage-tagged
// frames into progress state, with a one-shot reconnect policy.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one server-sent event: an optional event name plus the joined
// data payload.
type Frame struct {
	// Name is the value of the "event:" field; empty for the default channel.
	Name string
	// Data is the "data:" payload; multi-line data is joined with newlines.
	Data string
}

// FrameReader incrementally parses a text/event-stream body. It handles
// multi-line data fields, comment lines, and ignores id/retry fields, which
// the progress protocol does not use.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps the response body.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next blocks until a complete frame arrives, the stream ends (io.EOF), or
// the underlying reader fails. Frames with no data are skipped.
func (fr *FrameReader) Next() (Frame, error) {
	var frame Frame
	var data []string
	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				// Stream ended mid-frame; surface what we have.
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(data) == 0 {
				// Keep-alive separator with no pending frame.
				frame = Frame{}
				continue
			}
			frame.Data = strings.Join(data, "\n")
			return frame, nil
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		case strings.HasPrefix(line, "event:"):
			frame.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// id:, retry:, and unknown fields are ignored.
		}
	}
}

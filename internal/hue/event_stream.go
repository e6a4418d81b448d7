package hue

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"hueplan/pkg/logx"
)

// expectedIntro is the comment line the bridge sends when the stream opens.
const expectedIntro = ": hi"

var errBadIntro = errors.New("hue stream: unexpected welcome message")

// EventStream reads server-sent event frames from an open v2 stream. Frames
// look like:
//
//	id: 1630000000:0
//	data: [{...}]
//
// separated by blank lines, after an initial ": hi" comment.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	intro   bool
	log     logx.Logger
}

func newEventStream(body io.ReadCloser, log logx.Logger) *EventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	return &EventStream{body: body, scanner: sc, log: log}
}

// Next blocks until a full frame arrives. It returns io.EOF when the bridge
// closes the stream; the listener treats that as a reconnect signal. Cancel
// the request context to unblock a pending read.
func (s *EventStream) Next() (Event, error) {
	var id, data string
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")

		if !s.intro {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line != expectedIntro {
				return Event{}, fmt.Errorf("%w: %q", errBadIntro, line)
			}
			s.intro = true
			continue
		}

		switch {
		case line == "":
			if id != "" || data != "" {
				ev, err := buildEvent(id, data)
				if err != nil {
					s.log.Debug("skipping malformed event frame", logx.Err(err))
					id, data = "", ""
					continue
				}
				return ev, nil
			}
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	// Flush a final frame that arrived without a trailing blank line.
	if id != "" || data != "" {
		if ev, err := buildEvent(id, data); err == nil {
			return ev, nil
		}
	}
	return Event{}, io.EOF
}

func buildEvent(id, data string) (Event, error) {
	if data == "" {
		return Event{}, fmt.Errorf("hue stream: frame %q has no data", id)
	}
	return Event{ID: id, Data: []byte(data)}, nil
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

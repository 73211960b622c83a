package client

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

// Stream reads the SSE events of one turn and tracks the last seen seq so
// an interrupted read can be resumed.
type Stream struct {
	ChatID   string
	StreamID string

	body    io.ReadCloser
	reader  *bufio.Reader
	lastSeq int64
	done    bool
}

func newStream(chatID string, resp *http.Response, after int64) *Stream {
	return &Stream{
		ChatID:   chatID,
		StreamID: resp.Header.Get("X-Stream-ID"),
		body:     resp.Body,
		reader:   bufio.NewReader(resp.Body),
		lastSeq:  after,
	}
}

// Next returns the next event. It returns io.EOF after the end-of-stream
// marker and io.ErrUnexpectedEOF when the connection drops before it.
func (s *Stream) Next() (chat.Event, error) {
	if s.done {
		return chat.Event{}, io.EOF
	}

	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return chat.Event{}, io.ErrUnexpectedEOF
			}
			return chat.Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			payload := data.String()
			if payload == "[DONE]" {
				s.done = true
				return chat.Event{}, io.EOF
			}
			var ev chat.Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				return chat.Event{}, goerr.Wrap(err, "failed to decode stream event")
			}
			if ev.Seq > s.lastSeq {
				s.lastSeq = ev.Seq
			}
			return ev, nil
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		default:
			// id: lines repeat the seq carried by the payload; comments are heartbeats.
		}
	}
}

// LastSeq is the seq of the last event read, the resume position.
func (s *Stream) LastSeq() int64 {
	return s.lastSeq
}

func (s *Stream) Close() error {
	return s.body.Close()
}

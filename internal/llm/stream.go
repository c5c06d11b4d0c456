package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// ErrDetached is returned by Next after the connection was handed off.
var ErrDetached = errors.New("stream detached")

// StreamReader decodes a newline-delimited JSON chat response.
// It is owned by a single goroutine.
type StreamReader struct {
	body     io.ReadCloser
	reader   *bufio.Reader
	log      zerolog.Logger
	detached bool
	closed   bool
	skipped  int
}

// NewStreamReader wraps a response body.
func NewStreamReader(body io.ReadCloser, log zerolog.Logger) *StreamReader {
	return &StreamReader{
		body:   body,
		reader: bufio.NewReaderSize(body, 64*1024),
		log:    log,
	}
}

// Next returns the next decoded chunk. It returns io.EOF when the body ends.
// Blank and malformed lines are skipped.
func (s *StreamReader) Next() (Chunk, error) {
	if s.detached {
		return Chunk{}, ErrDetached
	}
	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			chunk, ok, perr := s.decode(line)
			if perr != nil {
				return Chunk{}, perr
			}
			if ok {
				return chunk, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Chunk{}, io.EOF
			}
			ce := classifyTransport(err)
			if ce.Type == ErrTypeConnection {
				ce.Message = "stream interrupted"
			}
			return Chunk{}, ce
		}
	}
}

func (s *StreamReader) decode(line []byte) (Chunk, bool, error) {
	var msg streamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		s.skipped++
		s.log.Debug().Err(err).Int("bytes", len(line)).Msg("skipping malformed stream line")
		return Chunk{}, false, nil
	}
	if msg.Error != "" {
		return Chunk{}, false, &ClientError{Type: ErrTypeInvalidResponse, Message: msg.Error}
	}
	return Chunk{
		Content:    msg.Message.Content,
		Done:       msg.Done,
		DoneReason: msg.DoneReason,
		Model:      msg.Model,
		EvalCount:  msg.EvalCount,
	}, true, nil
}

// Skipped returns how many malformed lines were dropped.
func (s *StreamReader) Skipped() int { return s.skipped }

// Detach transfers ownership of the connection to the caller. Bytes already
// buffered are readable from the returned body. After Detach the reader
// produces nothing and Close is a no-op.
func (s *StreamReader) Detach() io.ReadCloser {
	if s.detached || s.closed {
		return nil
	}
	s.detached = true
	return &detachedBody{Reader: s.reader, Closer: s.body}
}

// Close drains what is left of the response and releases the connection,
// unless it was detached.
func (s *StreamReader) Close() error {
	if s.detached || s.closed {
		return nil
	}
	s.closed = true
	_, _ = io.Copy(io.Discard, io.LimitReader(s.reader, 64*1024))
	return s.body.Close()
}

type detachedBody struct {
	io.Reader
	io.Closer
}

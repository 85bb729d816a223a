package decode

import (
	"bufio"
	"io"
)

// readerSource adapts a plain io.Reader (e.g. the HTTP engine's response
// body, or a chunked-transfer reader that already de-chunks) into the
// peekable Source interface, treating every non-empty Read as one data
// frame. This lets a chunked response split across TCP segments be
// consumed as frames arrive, without buffering the whole body (spec.md
// §4.4 edge case).
type readerSource struct {
	r        *bufio.Reader
	peeked   bool
	peekErr  error
	hasFrame bool
}

// FromReader wraps r as a Source.
func FromReader(r io.Reader) Source {
	return &readerSource{r: bufio.NewReader(r)}
}

func (s *readerSource) Peek() (bool, error) {
	if !s.peeked {
		_, err := s.r.Peek(1)
		s.peeked = true
		if err == io.EOF {
			s.hasFrame = false
			s.peekErr = nil
		} else if err != nil {
			s.peekErr = err
		} else {
			s.hasFrame = true
		}
	}
	return s.hasFrame, s.peekErr
}

func (s *readerSource) Next() (Frame, error) {
	if _, err := s.Peek(); err != nil {
		return Frame{}, err
	}
	if !s.hasFrame {
		return Frame{Final: true}, nil
	}
	buf := make([]byte, 32*1024)
	n, err := s.r.Read(buf)
	s.peeked = false // allow re-peeking for the next frame
	if n > 0 {
		if err == io.EOF {
			// Deliver the final data frame now; the subsequent Next call
			// will observe EOF via Peek and return Final.
			return Frame{Data: buf[:n]}, nil
		}
		if err != nil {
			return Frame{}, err
		}
		return Frame{Data: buf[:n]}, nil
	}
	if err == io.EOF {
		return Frame{Final: true}, nil
	}
	if err != nil {
		return Frame{}, err
	}
	return Frame{}, nil
}

package protocol

import (
	"bufio"
	"errors"
	"io"
)

// ErrLineTooLong is returned for a line longer than the reader's limit. The
// remainder of the line has already been consumed.
var ErrLineTooLong = errors.New("protocol line too long")

// LineReader reads newline-terminated lines of any length, keeping at most
// max bytes of each.
type LineReader struct {
	r   *bufio.Reader
	max int
}

func NewLineReader(r io.Reader, max int) *LineReader {
	return &LineReader{r: bufio.NewReader(r), max: max}
}

// ReadLine returns the next line without its terminator. An oversized line is
// returned cut to the limit together with ErrLineTooLong, so the caller can
// still see its tag and the stream stays in sync.
func (lr *LineReader) ReadLine() (string, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		frag, more, err := lr.r.ReadLine()
		if err != nil {
			return "", err
		}
		if !tooLong {
			if room := lr.max - len(buf); len(frag) > room {
				buf = append(buf, frag[:room]...)
				tooLong = true
			} else {
				buf = append(buf, frag...)
			}
		}
		if !more {
			break
		}
	}
	if tooLong {
		return string(buf), ErrLineTooLong
	}
	return string(buf), nil
}

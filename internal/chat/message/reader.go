package message

import (
	"bufio"
	"errors"
	"io"
)

// ErrLineTooLong - returned by ReadLine when a line exceeds the given limit.
var ErrLineTooLong = errors.New("message: line too long")

// ReadLine - reads one newline-delimited line and returns it without terminator.
// The max limits line length in bytes, non-positive max means no limit.
// An unterminated fragment before EOF is returned as a line with nil error,
// the next call returns io.EOF.
func ReadLine(r *bufio.Reader, max int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if max > 0 && len(buf)+len(chunk) > max+1 {
			// +1 for terminator, so a line of exactly max bytes is accepted
			return "", ErrLineTooLong
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return Clean(string(buf)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return Clean(string(buf)), nil
		default:
			return "", err
		}
	}
}

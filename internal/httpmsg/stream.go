package httpmsg

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// maxHead bounds the head of a streamed message.
const maxHead = 64 * 1024

// ReadMessage reads one message from a byte stream: the head up to the blank
// line, then Content-Length body bytes. Without Content-Length, untilEOF
// selects between reading the rest of the stream (a response on a closing
// connection) and an empty body.
func ReadMessage(br *bufio.Reader, untilEOF bool) ([]byte, error) {
	var buf bytes.Buffer
	length := -1

	for {
		line, err := br.ReadString('\n')
		buf.WriteString(line)
		if err != nil {
			return nil, errors.Wrap(err, "read message head")
		}
		if buf.Len() > maxHead {
			return nil, invalid("head exceeds %d bytes", maxHead)
		}
		if line == crlf {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, invalid("bad Content-Length %q", strings.TrimSpace(value))
			}
			length = n
		}
	}

	switch {
	case length >= 0:
		if _, err := io.CopyN(&buf, br, int64(length)); err != nil {
			return nil, errors.Wrap(err, "read message body")
		}
	case untilEOF:
		if _, err := io.Copy(&buf, br); err != nil {
			return nil, errors.Wrap(err, "read message body")
		}
	}
	return buf.Bytes(), nil
}

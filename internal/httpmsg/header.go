// Package httpmsg parses and serializes the HTTP/1.0 messages exchanged over
// every transport.
package httpmsg

import (
	"bytes"
	"fmt"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
)

const (
	Version = "HTTP/1.0"
	crlf    = "\r\n"
)

// ValidationError reports bytes that are not (yet) a complete message.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid HTTP message: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Header maps canonical header names to values. One value per name.
type Header map[string]string

func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// write emits the headers in name order, skipping the ones the message
// writes itself.
func (h Header) write(buf *bytes.Buffer, skip ...string) {
	keys := make([]string, 0, len(h))
	for k := range h {
		if !slices.Contains(skip, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		buf.WriteString(k + ": " + h[k] + crlf)
	}
}

// ParseHeaderLine parses "Name: value" as typed on a command line.
func ParseHeaderLine(line string) (string, string, error) {
	name, value, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return "", "", invalid("malformed header line %q", line)
	}
	return textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value), nil
}

// splitMessage separates the head lines from the body.
func splitMessage(data []byte) ([]string, []byte, error) {
	head, body, ok := bytes.Cut(data, []byte(crlf+crlf))
	if !ok {
		return nil, nil, invalid("no blank line after headers")
	}
	return strings.Split(string(head), crlf), body, nil
}

func parseHeaders(lines []string) (Header, error) {
	h := make(Header, len(lines))
	for _, line := range lines {
		name, value, err := ParseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		if _, dup := h[name]; dup {
			return nil, invalid("duplicate header %s", name)
		}
		h[name] = value
	}
	return h, nil
}

// checkLength validates the body against Content-Length when the header is
// present.
func checkLength(h Header, body []byte) error {
	v, ok := h["Content-Length"]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return invalid("bad Content-Length %q", v)
	}
	if n != len(body) {
		return invalid("Content-Length %d but body has %d bytes", n, len(body))
	}
	return nil
}

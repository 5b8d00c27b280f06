package httpmsg

import (
	"bytes"
	"strconv"
	"strings"
)

// Method is a request method. Only GET and POST exist here.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// ParseMethod accepts a method name in any case.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(s)); m {
	case MethodGet, MethodPost:
		return m, nil
	default:
		return "", invalid("unsupported method %q", s)
	}
}

// Request is one HTTP/1.0 request.
type Request struct {
	Method Method
	Path   string // absolute path, query included
	Host   string
	Header Header
	Body   []byte
}

// NewRequest builds a request with an empty header set.
func NewRequest(method Method, host, path string, body []byte) *Request {
	if path == "" {
		path = "/"
	}
	return &Request{Method: method, Host: host, Path: path, Header: Header{}, Body: body}
}

// Marshal serializes the request. Content-Type defaults to
// application/json; Content-Length is written whenever there is a body.
func (r *Request) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(r.Method) + " " + r.Path + " " + Version + crlf)
	buf.WriteString("Host: " + r.Host + crlf)
	r.Header.write(&buf, "Host", "Content-Length", "Content-Type")

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	buf.WriteString("Content-Type: " + contentType + crlf)
	if len(r.Body) > 0 || r.Method == MethodPost {
		buf.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + crlf)
	}
	buf.WriteString(crlf)
	buf.Write(r.Body)
	return buf.Bytes()
}

// ParseRequest validates and parses a complete request. Any failure is a
// *ValidationError.
func ParseRequest(data []byte) (*Request, error) {
	lines, body, err := splitMessage(data)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(lines[0])
	if len(parts) != 3 {
		return nil, invalid("malformed request line %q", lines[0])
	}
	method, err := ParseMethod(parts[0])
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(parts[1], "/") {
		return nil, invalid("path %q is not absolute", parts[1])
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, invalid("bad version %q", parts[2])
	}

	header, err := parseHeaders(lines[1:])
	if err != nil {
		return nil, err
	}
	host, ok := header["Host"]
	if !ok {
		return nil, invalid("missing Host header")
	}
	delete(header, "Host")

	if err := checkLength(header, body); err != nil {
		return nil, err
	}
	if !header.Has("Content-Length") && len(body) > 0 {
		return nil, invalid("body of %d bytes without Content-Length", len(body))
	}

	return &Request{Method: method, Path: parts[1], Host: host, Header: header, Body: body}, nil
}

// PathOnly strips the query string.
func (r *Request) PathOnly() string {
	p, _, _ := strings.Cut(r.Path, "?")
	return p
}

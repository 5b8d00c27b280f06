package httpmsg

import (
	"bytes"
	"net/http"
	"regexp"
	"strconv"
)

// Response is one HTTP/1.x response.
type Response struct {
	StatusCode int
	Status     string // reason phrase
	Header     Header
	Body       []byte
}

// NewResponse builds a response with the standard reason phrase.
func NewResponse(code int, body []byte) *Response {
	return &Response{StatusCode: code, Status: http.StatusText(code), Header: Header{}, Body: body}
}

// Marshal serializes the response; Content-Length is always written.
func (r *Response) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(Version + " " + strconv.Itoa(r.StatusCode) + " " + r.Status + crlf)
	r.Header.write(&buf, "Content-Length")
	buf.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + crlf)
	buf.WriteString(crlf)
	buf.Write(r.Body)
	return buf.Bytes()
}

var statusLine = regexp.MustCompile(`^HTTP/\d\.\d (\d{3})(?: (.*))?$`)

// ParseResponse validates and parses a complete response. Any failure is a
// *ValidationError.
func ParseResponse(data []byte) (*Response, error) {
	lines, body, err := splitMessage(data)
	if err != nil {
		return nil, err
	}

	m := statusLine.FindStringSubmatch(lines[0])
	if m == nil {
		return nil, invalid("malformed status line %q", lines[0])
	}
	code, _ := strconv.Atoi(m[1])

	header, err := parseHeaders(lines[1:])
	if err != nil {
		return nil, err
	}
	if err := checkLength(header, body); err != nil {
		return nil, err
	}

	return &Response{StatusCode: code, Status: m[2], Header: header, Body: body}, nil
}

// Head renders the status line and headers, as shown by a verbose client.
func (r *Response) Head() string {
	data := r.Marshal()
	head, _, _ := bytes.Cut(data, []byte(crlf+crlf))
	return string(head)
}

// IsRedirect reports a 3xx response carrying a Location.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Header.Get("Location") != ""
}

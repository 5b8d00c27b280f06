package app

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/transport"
	"github.com/1ureka/httpnio/internal/util"
)

// MaxRedirects bounds how many 3xx responses Fetch follows.
const MaxRedirects = 5

var (
	ErrInvalidTarget     = errors.New("invalid target")
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrMalformedRedirect = errors.New("redirect without a usable Location")
)

// Target is where a request goes: the server endpoint and the request path
// (with query).
type Target struct {
	Addr string // host:port
	Path string
}

func (t Target) String() string { return t.Addr + t.Path }

// ParseTarget reads the command line destination. Stream and websocket
// clients take an http:// URL; the reliable client takes host:port and a
// separate path.
func ParseTarget(kind config.TransportKind, raw, path string) (Target, error) {
	if kind == config.TransportReliable {
		if strings.Contains(raw, "://") {
			return Target{}, errors.Wrapf(ErrInvalidTarget, "udp takes host:port, not a URL (%s); use --path", raw)
		}
		if _, _, err := net.SplitHostPort(raw); err != nil {
			return Target{}, errors.Wrapf(ErrInvalidTarget, "%s: %v", raw, err)
		}
		if path == "" {
			path = "/"
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return Target{Addr: raw, Path: path}, nil
	}

	if path != "" {
		return Target{}, errors.Wrapf(ErrInvalidTarget, "--path only applies to udp; put the path in the URL")
	}
	return parseURL(raw)
}

func parseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, errors.Wrapf(ErrInvalidTarget, "%s: %v", raw, err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return Target{}, errors.Wrapf(ErrInvalidTarget, "%s: want http://host[:port]/path", raw)
	}

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}
	return Target{Addr: addr, Path: u.RequestURI()}, nil
}

// FetchOptions describe the request built from command line input.
type FetchOptions struct {
	Method httpmsg.Method
	Header []string // "Key: value" lines
	Body   []byte
}

// NewRequest builds the request for t.
func NewRequest(t Target, opts FetchOptions) (*httpmsg.Request, error) {
	method := opts.Method
	if method == "" {
		method = httpmsg.MethodGet
	}
	if method == httpmsg.MethodGet && len(opts.Body) > 0 {
		return nil, errors.Wrap(ErrInvalidTarget, "GET requests cannot carry a body")
	}

	req := httpmsg.NewRequest(method, t.Addr, t.Path, opts.Body)
	for _, line := range opts.Header {
		name, value, err := httpmsg.ParseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(name, "Host") {
			req.Host = value
			continue
		}
		req.Header.Set(name, value)
	}
	return req, nil
}

// Fetch sends the request and follows redirects. Each hop gets its own
// RequestTimeout.
func Fetch(ctx context.Context, cfg config.Config, t Target, opts FetchOptions) (*httpmsg.Response, error) {
	for hop := 0; ; hop++ {
		req, err := NewRequest(t, opts)
		if err != nil {
			return nil, err
		}

		util.LogDebug("%s %s via %s", req.Method, t, cfg.Transport)
		resp, err := transport.Do(ctx, cfg, t.Addr, req)
		if err != nil {
			return nil, err
		}
		if !resp.IsRedirect() {
			return resp, nil
		}
		if hop == MaxRedirects {
			return nil, errors.Wrapf(ErrTooManyRedirects, "gave up after %d", MaxRedirects)
		}

		next, err := redirect(cfg.Transport, t, resp.Header.Get("Location"))
		if err != nil {
			return nil, err
		}
		util.LogInfo("%d redirect: %s -> %s", resp.StatusCode, t, next)
		if resp.StatusCode == 303 {
			opts.Method, opts.Body = httpmsg.MethodGet, nil
		}
		t = next
	}
}

// redirect resolves a Location against the current target. The reliable
// transport cannot change host through a URL, so it only follows paths.
func redirect(kind config.TransportKind, cur Target, location string) (Target, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return Target{}, errors.Wrapf(ErrMalformedRedirect, "%q: %v", location, err)
	}

	if loc.IsAbs() {
		if kind == config.TransportReliable {
			return Target{}, errors.Wrapf(ErrMalformedRedirect, "udp cannot follow absolute redirect %q", location)
		}
		return parseURL(location)
	}

	base, err := url.Parse(cur.Path)
	if err != nil {
		return Target{}, errors.Wrapf(ErrMalformedRedirect, "current path %q: %v", cur.Path, err)
	}
	return Target{Addr: cur.Addr, Path: base.ResolveReference(loc).RequestURI()}, nil
}

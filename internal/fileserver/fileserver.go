// Package fileserver serves and stores files under a root directory in
// answer to GET and POST requests.
package fileserver

import (
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/util"
)

// Tuning constants.
const (
	cacheEntries  = 128
	maxCachedSize = 256 * 1024 // larger files are always read from disk
)

// Handler answers requests against one directory tree. It is safe for
// concurrent use by several session workers.
type Handler struct {
	root  string
	cache *lru.Cache // absolute path → []byte
	mu    sync.RWMutex
}

// New creates a handler rooted at dir, which must exist.
func New(dir string) (*Handler, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dir)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "file server root")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("file server root %s is not a directory", root)
	}

	cache, err := lru.New(cacheEntries)
	if err != nil {
		return nil, err
	}
	return &Handler{root: root, cache: cache}, nil
}

// Root is the absolute directory being served.
func (h *Handler) Root() string { return h.root }

// Respond implements the request handler contract.
func (h *Handler) Respond(req *httpmsg.Request) *httpmsg.Response {
	target, ok := h.resolve(req.PathOnly())
	if !ok {
		util.LogWarning("%s %s escapes the served directory", req.Method, req.Path)
		return status(http.StatusUnauthorized, "UNAUTHORIZED ACCESS")
	}

	switch req.Method {
	case httpmsg.MethodGet:
		return h.get(target)
	case httpmsg.MethodPost:
		return h.post(target, req)
	default:
		return status(http.StatusMethodNotAllowed, "METHOD NOT ALLOWED")
	}
}

// resolve maps a URL path into the root. ok is false for paths that leave
// it, through ".." or a symlink.
func (h *Handler) resolve(urlPath string) (string, bool) {
	p, err := url.PathUnescape(urlPath)
	if err != nil {
		return "", false
	}
	full := filepath.Join(h.root, filepath.FromSlash(p))
	if !h.inside(full) {
		return "", false
	}
	resolved, err := evalExisting(full)
	if err != nil || !h.inside(resolved) {
		return "", false
	}
	return full, true
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// re-appends the rest, so targets that do not exist yet are checked too.
func evalExisting(p string) (string, error) {
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(p); lerr == nil {
			return "", err // dangling symlink
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		rest = append([]string{filepath.Base(p)}, rest...)
		p = parent
	}
}

func (h *Handler) inside(p string) bool {
	rel, err := filepath.Rel(h.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ---------------------------------------------------------------------------
// GET
// ---------------------------------------------------------------------------

func (h *Handler) get(target string) *httpmsg.Response {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info, err := os.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return status(http.StatusNotFound, "NOT FOUND")
	case err != nil:
		util.LogError("stat %s: %v", target, err)
		return status(http.StatusInternalServerError, "INTERNAL SERVER ERROR")
	case info.IsDir():
		return h.list(target)
	}

	if v, ok := h.cache.Get(target); ok {
		return fileResponse(target, v.([]byte))
	}
	data, err := os.ReadFile(target)
	if err != nil {
		util.LogError("read %s: %v", target, err)
		return status(http.StatusInternalServerError, "INTERNAL SERVER ERROR")
	}
	if len(data) <= maxCachedSize {
		h.cache.Add(target, data)
	}
	return fileResponse(target, data)
}

// list answers a directory: the root lists every file below it, any other
// directory its direct entries.
func (h *Handler) list(dir string) *httpmsg.Response {
	var entries []string
	if dir == h.root {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				rel, _ := filepath.Rel(h.root, p)
				entries = append(entries, filepath.ToSlash(rel))
			}
			return nil
		})
		if err != nil {
			util.LogError("walk %s: %v", dir, err)
			return status(http.StatusInternalServerError, "INTERNAL SERVER ERROR")
		}
	} else {
		des, err := os.ReadDir(dir)
		if err != nil {
			util.LogError("read dir %s: %v", dir, err)
			return status(http.StatusInternalServerError, "INTERNAL SERVER ERROR")
		}
		for _, d := range des {
			name := d.Name()
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	}
	slices.Sort(entries)

	resp := httpmsg.NewResponse(http.StatusOK, []byte(strings.Join(entries, "\n")))
	resp.Header.Set("Content-Type", "text/plain")
	return resp
}

func fileResponse(target string, data []byte) *httpmsg.Response {
	contentType := mime.TypeByExtension(filepath.Ext(target))
	if contentType == "" {
		contentType = "text/plain"
	}
	resp := httpmsg.NewResponse(http.StatusOK, data)
	resp.Header.Set("Content-Type", contentType)
	resp.Header.Set("Content-Disposition", "inline; filename=\""+filepath.Base(target)+"\"")
	return resp
}

// ---------------------------------------------------------------------------
// POST
// ---------------------------------------------------------------------------

func (h *Handler) post(target string, req *httpmsg.Request) *httpmsg.Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return status(http.StatusBadRequest, "CANNOT OVERWRITE A DIRECTORY")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		util.LogError("create parents of %s: %v", target, err)
		return status(http.StatusInternalServerError, "INTERNAL SERVER ERROR")
	}
	if err := os.WriteFile(target, req.Body, 0o644); err != nil {
		util.LogError("write %s: %v", target, err)
		return status(http.StatusInternalServerError, "INTERNAL SERVER ERROR")
	}
	h.cache.Remove(target)

	body := "File contents successfully written to: " + req.PathOnly() + "\n" + string(req.Body)
	resp := httpmsg.NewResponse(http.StatusOK, []byte(body))
	resp.Header.Set("Content-Type", "text/plain")
	return resp
}

func status(code int, body string) *httpmsg.Response {
	resp := httpmsg.NewResponse(code, []byte(body))
	resp.Header.Set("Content-Type", "text/plain")
	return resp
}

package httpserver

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/corehttp/server/internal/buffer"
)

// suffixType maps a file extension to its MIME content type. The
// trailing space on .css/.js is the original table's own text
// (spec.md §6 reproduces it literally) and is preserved here rather
// than "corrected" — changing it would diverge from the specified wire
// format.
var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css ",
	".js":    "text/javascript ",
}

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Response builds an HTTP/1.1 response for one request: status
// derivation from the filesystem, canonical error pages, and a
// memory-mapped file body.
type Response struct {
	Code        int
	KeepAlive   bool
	Path        string
	SrcDir      string
	mmFile      []byte
	fileSize    int64
	hasMapping  bool
}

// NewResponse prepares a Response. code == -1 means "derive from the
// filesystem" as spec.md §4.7 specifies.
func NewResponse(srcDir, path string, keepAlive bool, code int) *Response {
	return &Response{Code: code, KeepAlive: keepAlive, Path: path, SrcDir: srcDir}
}

// Reset unmaps any existing file region before the response is reused
// for a new request — unconditionally, which closes the original's mmap
// leak (spec.md §9: Init may leak a prior mapping under partial-build
// conditions).
func (r *Response) Reset(srcDir, path string, keepAlive bool, code int) {
	r.Unmap()
	r.Code = code
	r.KeepAlive = keepAlive
	r.Path = path
	r.SrcDir = srcDir
}

// File returns the memory-mapped response body, if any.
func (r *Response) File() []byte { return r.mmFile }

// FileLen returns the response body's length.
func (r *Response) FileLen() int64 { return r.fileSize }

// Build assembles the status line, headers, and body into buf,
// deriving the status from the filesystem when Code == -1.
func (r *Response) Build(buf *buffer.Buffer) error {
	// Status derivation from the filesystem applies only when no
	// status was preset: the original always re-derives here, which
	// for a malformed request (path still "") means stat() resolves
	// to srcDir itself and silently turns the intended 400 into a
	// 404. spec.md's own scenario S6 requires 400 for a bad request
	// line, so a preset code is left alone.
	if r.Code == -1 {
		fullPath := r.SrcDir + r.Path
		info, statErr := os.Stat(fullPath)
		switch {
		case statErr != nil || info.IsDir():
			r.Code = 404
		case info.Mode().Perm()&0o004 == 0: // world/"other" read bit clear
			r.Code = 403
		default:
			r.Code = 200
		}
	}
	r.rewriteToErrorPage()
	r.addStatusLine(buf)
	r.addHeaders(buf)
	return r.addContent(buf)
}

// rewriteToErrorPage repoints Path at the canonical error page for the
// current code, if one exists.
func (r *Response) rewriteToErrorPage() {
	page, ok := codePath[r.Code]
	if !ok {
		return
	}
	r.Path = page
}

func (r *Response) addStatusLine(buf *buffer.Buffer) {
	status, ok := codeStatus[r.Code]
	if !ok {
		r.Code = 400
		status = codeStatus[400]
	}
	buf.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.Code, status))
}

func (r *Response) addHeaders(buf *buffer.Buffer) {
	if r.KeepAlive {
		buf.AppendString("Connection: keep-alive\r\n")
		buf.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("Connection: close\r\n")
	}
	buf.AppendString("Content-type: " + r.fileType() + "\r\n")
}

func (r *Response) fileType() string {
	idx := strings.LastIndexByte(r.Path, '.')
	if idx < 0 {
		return "text/plain"
	}
	if mime, ok := suffixType[r.Path[idx:]]; ok {
		return mime
	}
	return "text/plain"
}

// addContent opens and memory-maps the resource, falling back to an
// inline error body if the canonical error page itself cannot be
// opened or stat'd (spec.md §9: guard against the error page being
// absent, rather than propagating a second failure).
func (r *Response) addContent(buf *buffer.Buffer) error {
	fullPath := r.SrcDir + r.Path
	info, err := os.Stat(fullPath)
	if err != nil {
		r.ErrorContent(buf, "File NotFound!")
		return nil
	}
	f, err := os.OpenFile(fullPath, os.O_RDONLY, 0)
	if err != nil {
		r.ErrorContent(buf, "File NotFound!")
		return nil
	}
	size := info.Size()
	var mapped []byte
	if size > 0 {
		mapped, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	}
	f.Close() // fd is closed immediately after mapping, per spec.md §4.7
	if err != nil {
		r.ErrorContent(buf, "File NotFound!")
		return nil
	}
	r.mmFile = mapped
	r.fileSize = size
	r.hasMapping = size > 0
	buf.AppendString("Content-length: " + strconv.FormatInt(size, 10) + "\r\n\r\n")
	return nil
}

// ErrorContent emits an inline HTML error body as the fallback when the
// canonical error page itself cannot be served. It is only ever called
// from addContent, after addStatusLine and addHeaders have already
// written the status line and Connection/Content-type headers into
// buf, so it must append just the length and the body — writing a
// second status line here would produce a malformed response.
func (r *Response) ErrorContent(buf *buffer.Buffer, message string) {
	body := "<html><title>Error</title><body bgcolor=\"ffffff\">" +
		strconv.Itoa(r.Code) + " : " + message +
		"<p>" + message + "</p><hr><em>corehttpd</em></body></html>"
	buf.AppendString("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	buf.AppendString(body)
}

// Unmap releases the file mapping. Safe to call when none exists.
func (r *Response) Unmap() {
	if r.hasMapping && r.mmFile != nil {
		unix.Munmap(r.mmFile)
	}
	r.mmFile = nil
	r.fileSize = 0
	r.hasMapping = false
}

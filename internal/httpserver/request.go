// Package httpserver implements the per-connection HTTP/1.1 state
// machine: request parsing, path canonicalisation, login/register
// dispatch, response building, and the connection object that ties
// buffers and vectored I/O together.
package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/corehttp/server/internal/buffer"
	"github.com/corehttp/server/internal/dbpool"
)

// headerCaser normalizes a header name to its canonical title case
// (Content-Type, not content-type or CONTENT-TYPE) so lookups like
// Header["Content-Type"] succeed regardless of how a client cased the
// line on the wire. The original's fixed-field switch only recognized
// one exact casing, which real clients do not reliably send.
var headerCaser = cases.Title(language.Und)

// parseState is one phase of the request parser state machine.
type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateFinish
)

// defaultHTML is the closed allow-list of extensionless paths that get
// ".html" appended during canonicalisation.
var defaultHTML = map[string]bool{
	"/index": true, "/register": true, "/login": true,
	"/welcome": true, "/video": true, "/picture": true,
}

// htmlTag maps a dispatch path to its login(1)/register(0) tag.
var htmlTag = map[string]int{
	"/login.html":    1,
	"/register.html": 0,
}

// Request holds one HTTP request's parsed state.
type Request struct {
	state   parseState
	Method  string
	Path    string
	Version string
	Body    string
	Header  map[string]string
	Form    map[string]string
	db      *dbpool.Pool
}

// NewRequest returns a Request ready for Parse. db may be nil, in
// which case login/register verification always fails closed — tests
// and a static-files-only deployment both rely on this.
func NewRequest(db *dbpool.Pool) *Request {
	return &Request{state: stateRequestLine, Header: map[string]string{}, Form: map[string]string{}, db: db}
}

// Reset clears a Request for reuse, mirroring the original's Init().
func (r *Request) Reset() {
	r.state = stateRequestLine
	r.Method, r.Path, r.Version, r.Body = "", "", "", ""
	r.Header = map[string]string{}
	r.Form = map[string]string{}
}

// ErrMalformed is returned when the request line or a header line
// cannot be parsed.
var ErrMalformed = fmt.Errorf("httpserver: malformed request")

// Parse consumes as much of buf as forms complete lines, advancing
// through REQUEST_LINE -> HEADERS -> BODY -> FINISH. It can be called
// repeatedly as more bytes arrive; feeding the same byte stream in any
// chunking yields the same final state (spec property #1).
func (r *Request) Parse(buf *buffer.Buffer) error {
	if buf.Readable() == 0 {
		return nil
	}
	for buf.Readable() > 0 && r.state != stateFinish {
		data := buf.Peek()

		if r.state == stateBody {
			// A body has no terminating line of its own: unlike the
			// request line and headers, the absence of a trailing
			// CRLF means "the rest of the buffer is the body", not
			// "need more bytes" — mirroring the original's
			// ParseBody_, whose search() falls back to the buffer end
			// when no CRLF is found.
			idx := bytes.Index(data, []byte("\r\n"))
			end := idx
			if end < 0 {
				end = len(data)
			}
			r.Body = string(data[:end])
			r.parsePost()
			r.state = stateFinish
			if idx < 0 {
				buf.Retrieve(end)
			} else {
				buf.Retrieve(end + 2)
			}
			break
		}

		idx := bytes.Index(data, []byte("\r\n"))
		if idx < 0 {
			// Need more bytes to complete the line.
			return nil
		}
		line := string(data[:idx])
		switch r.state {
		case stateRequestLine:
			if err := r.parseRequestLine(line); err != nil {
				return err
			}
		case stateHeaders:
			if line == "" {
				r.state = stateBody
			} else if err := r.parseHeader(line); err != nil {
				return err
			}
			if buf.Readable()-idx-2 <= 0 && r.state == stateBody {
				r.state = stateFinish
			}
		}
		buf.Retrieve(idx + 2)
	}
	return nil
}

func (r *Request) parseRequestLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return ErrMalformed
	}
	r.Method = parts[0]
	r.Path = canonicalizePath(parts[1])
	r.Version = strings.TrimPrefix(parts[2], "HTTP/")
	r.state = stateHeaders
	return nil
}

// canonicalizePath rewrites "/" to "/index.html", appends ".html" for
// allow-listed bare names, and keeps the path inside the resource root
// by cleaning it against "/" first, so ".." segments cannot climb above
// the root (spec.md §9 open issue: enforce). Such a path is not
// rejected: "/../../etc/passwd" becomes "/etc/passwd" under the root.
func canonicalizePath(p string) string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "/index.html"
	}
	if defaultHTML[clean] {
		return clean + ".html"
	}
	return clean
}

func (r *Request) parseHeader(line string) error {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		r.state = stateBody
		return nil
	}
	key := headerCaser.String(line[:idx])
	value := strings.TrimPrefix(line[idx+1:], " ")
	r.Header[key] = value
	return nil
}

func (r *Request) parsePost() {
	if r.Method != "POST" || !isFormEncoded(r.Header["Content-Type"]) {
		return
	}
	r.Form = parseURLEncoded(r.Body)
	tag, ok := htmlTag[r.Path]
	if !ok || (tag != 0 && tag != 1) {
		return
	}
	isLogin := tag == 1
	if r.verifyUser(r.Form["username"], r.Form["password"], isLogin) {
		r.Path = "/welcome.html"
	} else {
		r.Path = "/error.html"
	}
}

// isFormEncoded validates the Content-Type value against HTTP's media-
// type grammar via httpguts, tolerating a trailing charset parameter
// and case variation — unlike the original's exact string equality
// check against a single fixed casing.
func isFormEncoded(contentType string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return httpguts.HeaderValuesContainsToken([]string{contentType}, "application/x-www-form-urlencoded")
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return 0
	}
}

// parseURLEncoded decodes an application/x-www-form-urlencoded body
// into key/value pairs: '+' becomes space, '%HH' becomes the byte it
// encodes, pairs are split on '&' then '='. The original C++ writes
// the decimal digits of the decoded value back into the string instead
// of the decoded byte; this is the corrected decoding (spec.md §4.6,
// test scenario S8).
func parseURLEncoded(body string) map[string]string {
	form := map[string]string{}
	if len(body) == 0 {
		return form
	}
	var out []byte
	var key string
	haveKey := false
	flush := func(value []byte) {
		if haveKey {
			form[key] = string(value)
		}
	}
	n := len(body)
	for i := 0; i < n; i++ {
		switch c := body[i]; c {
		case '=':
			key = string(out)
			haveKey = true
			out = out[:0]
		case '+':
			out = append(out, ' ')
		case '%':
			if i+2 < n {
				out = append(out, byte(hexDigit(body[i+1])*16+hexDigit(body[i+2])))
				i += 2
			}
		case '&':
			flush(out)
			out = out[:0]
			haveKey = false
		default:
			out = append(out, c)
		}
	}
	flush(out)
	return form
}

// verifyUser implements the login/register check against the user
// table. Queries are parameterised (spec.md §9: the source interpolates
// raw strings into SQL, an injection risk flagged for a fix).
func (r *Request) verifyUser(name, pwd string, isLogin bool) bool {
	if name == "" || pwd == "" || r.db == nil {
		return false
	}
	conn := r.db.TryGet()
	if conn == nil {
		return false
	}
	defer r.db.Put(conn)

	ctx := context.Background()
	row := conn.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ? LIMIT 1", name)
	var storedPassword string
	err := row.Scan(&storedPassword)
	switch {
	case err == sql.ErrNoRows:
		if isLogin {
			return false
		}
		_, insertErr := conn.ExecContext(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", name, pwd)
		// Register succeeds only if the insert actually committed —
		// the original sets the success flag unconditionally here
		// regardless of the insert's outcome (spec.md §9); this is
		// the corrected intent.
		return insertErr == nil
	case err != nil:
		return false
	default:
		if isLogin {
			return pwd == storedPassword
		}
		return false
	}
}

// IsKeepAlive reports whether the Connection header requests keep-alive
// on an HTTP/1.1 request.
func (r *Request) IsKeepAlive() bool {
	return r.Header["Connection"] == "keep-alive" && r.Version == "1.1"
}

// Done reports whether parsing has reached FINISH.
func (r *Request) Done() bool { return r.state == stateFinish }

package httpserver

import (
	"testing"

	"github.com/corehttp/server/internal/buffer"
)

func parseWhole(t *testing.T, raw string) *Request {
	t.Helper()
	r := NewRequest(nil)
	b := buffer.New(len(raw) + 16)
	b.AppendString(raw)
	if err := r.Parse(b); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return r
}

func TestParseRequestLineAndPathCanonicalization(t *testing.T) {
	r := parseWhole(t, "GET / HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")
	if r.Method != "GET" || r.Path != "/index.html" || r.Version != "1.1" {
		t.Fatalf("got Method=%q Path=%q Version=%q", r.Method, r.Path, r.Version)
	}
	if !r.IsKeepAlive() {
		t.Fatal("IsKeepAlive() = false, want true")
	}
	if !r.Done() {
		t.Fatal("Done() = false after a complete request with no body")
	}
}

func TestAllowListGetsHTMLSuffix(t *testing.T) {
	r := parseWhole(t, "GET /welcome HTTP/1.1\r\n\r\n")
	if r.Path != "/welcome.html" {
		t.Fatalf("Path = %q, want /welcome.html", r.Path)
	}
}

func TestPathTraversalIsCleaned(t *testing.T) {
	r := parseWhole(t, "GET /../../etc/passwd HTTP/1.1\r\n\r\n")
	if r.Path != "/etc/passwd" {
		t.Fatalf("Path = %q, want cleaned /etc/passwd (no traversal above root)", r.Path)
	}
}

func TestMalformedRequestLine(t *testing.T) {
	r := NewRequest(nil)
	b := buffer.New(64)
	b.AppendString("NOT A VALID LINE\r\n\r\n")
	if err := r.Parse(b); err != ErrMalformed {
		t.Fatalf("Parse() error = %v, want ErrMalformed", err)
	}
}

func TestChunkedFeedMatchesWholeFeed(t *testing.T) {
	raw := "GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"
	whole := parseWhole(t, raw)

	r := NewRequest(nil)
	b := buffer.New(128)
	for i := 0; i < len(raw); i++ {
		b.AppendString(string(raw[i]))
		if err := r.Parse(b); err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
	}
	if r.Method != whole.Method || r.Path != whole.Path || r.Version != whole.Version {
		t.Fatalf("chunked parse = %+v, want to match whole parse %+v", r, whole)
	}
	if r.IsKeepAlive() != whole.IsKeepAlive() {
		t.Fatalf("chunked IsKeepAlive() = %v, want %v", r.IsKeepAlive(), whole.IsKeepAlive())
	}
}

func TestURLEncodedBodyDecoding(t *testing.T) {
	form := parseURLEncoded("key%20with%20spaces=value%20with%20spaces")
	if got := form["key with spaces"]; got != "value with spaces" {
		t.Fatalf("form[%q] = %q, want %q", "key with spaces", got, "value with spaces")
	}
}

func TestURLEncodedPlusBecomesSpace(t *testing.T) {
	form := parseURLEncoded("a+b=c+d")
	if form["a b"] != "c d" {
		t.Fatalf("form[\"a b\"] = %q, want %q", form["a b"], "c d")
	}
}

func TestVerifyUserFailsClosedWithoutDB(t *testing.T) {
	r := NewRequest(nil)
	if r.verifyUser("alice", "secret", true) {
		t.Fatal("verifyUser() with nil db pool should fail closed")
	}
}

// A form-encoded POST body has no trailing CRLF of its own: the
// request ends at the last byte of the body, not at a line terminator.
// Parse must still reach stateFinish and populate Form from it.
func TestPostBodyWithoutTrailingCRLFIsConsumed(t *testing.T) {
	raw := "POST /login HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: 29\r\n" +
		"\r\n" +
		"username=bob&password=hunter2"
	r := parseWhole(t, raw)
	if !r.Done() {
		t.Fatal("Done() = false, want true once the body has been consumed")
	}
	if got := r.Form["username"]; got != "bob" {
		t.Fatalf(`Form["username"] = %q, want "bob"`, got)
	}
	if got := r.Form["password"]; got != "hunter2" {
		t.Fatalf(`Form["password"] = %q, want "hunter2"`, got)
	}
}

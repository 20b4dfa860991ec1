package httpserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func newSocketPair(t *testing.T) (clientFd, serverFd int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
	})
	return fds[0], fds[1]
}

func TestStaticGETServesFileWithHeaders(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("x", 42)
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	clientFd, serverFd := newSocketPair(t)

	conn := NewConnection(dir, nil)
	conn.Init(serverFd, "test-peer", false)
	defer conn.Close()

	req := "GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"
	if _, err := unix.Write(clientFd, []byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	if _, err := conn.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok := conn.Process(); !ok {
		t.Fatal("Process() = false, want true")
	}
	if err := conn.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, 4096)
	n, err := unix.Read(clientFd, out)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp := string(out[:n])

	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("response does not start with 200 OK: %q", resp)
	}
	for _, want := range []string{
		"Connection: keep-alive\r\n",
		"keep-alive: max=6, timeout=120\r\n",
		"Content-type: text/html\r\n",
		"Content-length: 42\r\n",
	} {
		if !strings.Contains(resp, want) {
			t.Fatalf("response missing %q in: %q", want, resp)
		}
	}
	if !strings.HasSuffix(resp, body) {
		t.Fatalf("response does not end with file body")
	}
}

func TestMissingFileYields404WithErrorPage(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "404.html"), []byte("not found page"), 0o644)

	clientFd, serverFd := newSocketPair(t)
	conn := NewConnection(dir, nil)
	conn.Init(serverFd, "test-peer", false)
	defer conn.Close()

	req := "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n"
	unix.Write(clientFd, []byte(req))
	conn.Read()
	conn.Process()
	conn.Write()

	out := make([]byte, 4096)
	n, _ := unix.Read(clientFd, out)
	resp := string(out[:n])
	if !strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("response = %q, want 404 Not Found status line", resp)
	}
	if !strings.HasSuffix(resp, "not found page") {
		t.Fatalf("response body does not end with the 404 page contents: %q", resp)
	}
}

func TestBadRequestYields400(t *testing.T) {
	dir := t.TempDir()
	clientFd, serverFd := newSocketPair(t)
	conn := NewConnection(dir, nil)
	conn.Init(serverFd, "test-peer", false)
	defer conn.Close()

	unix.Write(clientFd, []byte("NOT A VALID LINE\r\n\r\n"))
	conn.Read()
	conn.Process()
	conn.Write()

	out := make([]byte, 4096)
	n, _ := unix.Read(clientFd, out)
	resp := string(out[:n])
	if !strings.HasPrefix(resp, "HTTP/1.1 400") {
		t.Fatalf("response = %q, want 400 status line", resp)
	}
	if !strings.Contains(resp, "Connection: close\r\n") {
		t.Fatalf("response missing Connection: close: %q", resp)
	}
}

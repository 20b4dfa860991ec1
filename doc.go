/*
Package server (module github.com/corehttp/server) is a multi-threaded
HTTP/1.1 serving core: a single reactor goroutine multiplexes readiness
events across accepted connections via epoll (Linux) or kqueue (Darwin),
dispatches per-connection read/process/write work onto a fixed worker
pool, and tracks idle-connection deadlines with a binary timer heap.

It serves static files from a configured resource directory and
implements a minimal login/register flow backed by a MySQL user table,
modeled after the TinyWebServer reference design: a growable Buffer for
socket I/O, a request parser state machine, a response builder that
serves file bodies via mmap, and a bounded pool of pre-established
database handles.

# Packages

  - internal/buffer: the growable read/write byte buffer
  - internal/poller: the readiness reactor (epoll/kqueue)
  - internal/timerheap: the idle-connection deadline heap
  - internal/workerpool: the fixed-size connection worker pool
  - internal/dbpool: the bounded MySQL handle pool
  - internal/httpserver: request parsing, response building, the
    per-connection object
  - internal/server: the accept/dispatch loop tying the above together
  - internal/config: process configuration
  - internal/logging: structured, daily-rotating logging
  - internal/pools: Connection/Buffer recycling and a log-rotation
    executor
  - internal/benchstat: the wire record a load-test harness reports
  - cmd/corehttpd: the process entrypoint

# Quick start

	corehttpd -port 1316 -src-dir ./resources -db-user app -db-pwd secret -db-name corehttpd

See the flags in cmd/corehttpd for every tunable parameter;
internal/server.Config holds the ones the server loop uses.
*/
package server

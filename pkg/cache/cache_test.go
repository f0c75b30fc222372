package cache

import (
	"io"
	"net/http"
	"testing"
	"time"
)

func TestStoreAndLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key := Key(http.MethodGet, "https://example.com/a", "")
	respHeaders := http.Header{"Content-Type": {"text/plain"}}
	reqHeaders := http.Header{"Accept": {"*/*"}}

	w, err := c.BeginWrite(key, http.MethodGet, "https://example.com/a", reqHeaders, 200, respHeaders, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ent, ok := c.Lookup(key, reqHeaders)
	if !ok {
		t.Fatal("expected a cache hit after commit")
	}
	if ent.StatusCode != 200 || ent.BodySize != 5 {
		t.Fatalf("unexpected entry: %+v", ent)
	}

	body, err := c.readMeta(key)
	if err != nil {
		t.Fatalf("readMeta: %v", err)
	}
	if body.Headers.Get("Content-Type") != "text/plain" {
		t.Fatalf("expected persisted content-type, got %v", body.Headers)
	}
}

func TestConcurrentWriterIsRejected(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := Key(http.MethodGet, "https://example.com/b", "")

	w1, err := c.BeginWrite(key, http.MethodGet, "https://example.com/b", http.Header{}, 200, http.Header{}, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	defer w1.Abort()

	if _, err := c.BeginWrite(key, http.MethodGet, "https://example.com/b", http.Header{}, 200, http.Header{}, time.Now(), time.Now()); err != ErrWriteInFlight {
		t.Fatalf("expected ErrWriteInFlight, got %v", err)
	}
}

func TestReopenReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := Key(http.MethodGet, "https://example.com/c", "")
	w, _ := c.BeginWrite(key, http.MethodGet, "https://example.com/c", http.Header{}, 200, http.Header{}, time.Now(), time.Now())
	io.WriteString(w, "persisted")
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	c2, err := Open(dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ent, ok := c2.Lookup(key, http.Header{})
	if !ok {
		t.Fatal("expected replayed entry to be found after reopen")
	}
	if ent.BodySize != int64(len("persisted")) {
		t.Fatalf("unexpected body size after replay: %d", ent.BodySize)
	}
}

func TestVaryMismatchIsAMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := Key(http.MethodGet, "https://example.com/d", "")
	reqHeaders := http.Header{"Accept-Encoding": {"gzip"}}
	respHeaders := http.Header{"Vary": {"Accept-Encoding"}}

	w, _ := c.BeginWrite(key, http.MethodGet, "https://example.com/d", reqHeaders, 200, respHeaders, time.Now(), time.Now())
	w.Write([]byte("x"))
	w.Commit()

	if _, ok := c.Lookup(key, http.Header{"Accept-Encoding": {"br"}}); ok {
		t.Fatal("expected Vary mismatch to report a miss")
	}
	if _, ok := c.Lookup(key, reqHeaders); !ok {
		t.Fatal("expected matching Vary header to report a hit")
	}
}

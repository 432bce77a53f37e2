package mw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type testBaseWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newTestBaseWriter() *testBaseWriter {
	return &testBaseWriter{header: make(http.Header)}
}

func (w *testBaseWriter) Header() http.Header {
	return w.header
}

func (w *testBaseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
}

func (w *testBaseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(p)
}

type testFlusherWriter struct {
	*testBaseWriter
	flushed bool
}

func (w *testFlusherWriter) Flush() {
	w.flushed = true
}

type testHijackerWriter struct {
	*testBaseWriter
	hijacked bool
}

func (w *testHijackerWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

type testFlusherHijackerWriter struct {
	*testBaseWriter
	flushed  bool
	hijacked bool
}

func (w *testFlusherHijackerWriter) Flush() {
	w.flushed = true
}

func (w *testFlusherHijackerWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func parseSingleLogRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	return rec
}

func accessLogRequest(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil).
		WithContext(WithRequestID(context.Background(), "req_test"))
}

func TestAccessLog_PreservesFlusher(t *testing.T) {
	writer := &testFlusherWriter{testBaseWriter: newTestBaseWriter()}
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("expected http.Flusher to be preserved")
		}
		flusher.Flush()
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(writer, accessLogRequest("/v1/tokens"))

	if !writer.flushed {
		t.Fatalf("expected underlying flusher to be invoked")
	}
}

func TestAccessLog_PreservesHijacker(t *testing.T) {
	writer := &testHijackerWriter{testBaseWriter: newTestBaseWriter()}
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Fatalf("expected http.Hijacker to be preserved")
		}
		_, _, _ = hijacker.Hijack()
	}))

	h.ServeHTTP(writer, accessLogRequest("/v1/voice"))

	if !writer.hijacked {
		t.Fatalf("expected underlying hijacker to be invoked")
	}
}

func TestAccessLog_PreservesFlusherAndHijacker(t *testing.T) {
	writer := &testFlusherHijackerWriter{testBaseWriter: newTestBaseWriter()}
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("expected http.Flusher to be preserved")
		}
		flusher.Flush()
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Fatalf("expected http.Hijacker to be preserved")
		}
		_, _, _ = hijacker.Hijack()
	}))

	h.ServeHTTP(writer, accessLogRequest("/v1/voice"))

	if !writer.flushed {
		t.Fatalf("expected underlying flusher to be invoked")
	}
	if !writer.hijacked {
		t.Fatalf("expected underlying hijacker to be invoked")
	}
}

func TestAccessLog_DoesNotAdvertiseUnsupportedInterfaces(t *testing.T) {
	writer := newTestBaseWriter()
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); ok {
			t.Fatalf("writer should not advertise http.Flusher")
		}
		if _, ok := w.(http.Hijacker); ok {
			t.Fatalf("writer should not advertise http.Hijacker")
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(writer, accessLogRequest("/v1/tokens"))
}

func TestAccessLog_StatusLogging_ExplicitWriteHeader(t *testing.T) {
	writer := newTestBaseWriter()
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(writer, accessLogRequest("/v1/tokens"))

	rec := parseSingleLogRecord(t, loggerOut)
	if got, want := rec["status"], float64(http.StatusCreated); got != want {
		t.Fatalf("logged status = %v, want %v", got, want)
	}
}

func TestAccessLog_StatusLogging_ImplicitWriteIs200(t *testing.T) {
	writer := newTestBaseWriter()
	loggerOut := &bytes.Buffer{}

	h := AccessLog(newTestLogger(loggerOut), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(writer, accessLogRequest("/v1/tokens"))

	rec := parseSingleLogRecord(t, loggerOut)
	if got, want := rec["status"], float64(http.StatusOK); got != want {
		t.Fatalf("logged status = %v, want %v", got, want)
	}
}

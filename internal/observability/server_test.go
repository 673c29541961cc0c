package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "tweetfeeder/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	b, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(b)
}

func TestHandlerRoutes(t *testing.T) {
	s := New(Config{Pprof: true}, func() any { return map[string]int{"feed_index": 4} }, logx.Nop())
	h := s.Handler()

	if code, body := get(t, h, "/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	if code, body := get(t, h, "/status"); code != http.StatusOK || !strings.Contains(body, `"feed_index":4`) {
		t.Fatalf("status: %d %q", code, body)
	}
	if code, body := get(t, h, "/metrics"); code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("metrics: %d", code)
	}
	if code, _ := get(t, h, "/debug/pprof/"); code != http.StatusOK {
		t.Fatalf("pprof on loopback: %d", code)
	}
}

func TestPprofRefusedOnPublicAddr(t *testing.T) {
	h := New(Config{Addr: "0.0.0.0:9464", Pprof: true}, nil, logx.Nop()).Handler()
	if code, _ := get(t, h, "/debug/pprof/"); code != http.StatusNotFound {
		t.Fatalf("pprof on public addr: %d", code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"10.0.0.5:9464":  false,
	}
	for in, want := range tests {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", in, got, want)
		}
	}
}

package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDumpHandler(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
	})
	var out bytes.Buffer
	h := DumpHandler(next, "X-Actor-ID", &out)

	r := httptest.NewRequest("PUT", "/v1/tasks/abc/status?x=1", strings.NewReader(`{"status":"COMPLETED"}`))
	r.Header.Set("X-Actor-ID", "hr-a")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if have, want := seen, `{"status":"COMPLETED"}`; have != want {
		t.Errorf("body not replaced: have: %v, want: %v", have, want)
	}
	want := "PUT /v1/tasks/abc/status?x=1 actor=hr-a\n{\"status\":\"COMPLETED\"}\n"
	if have := out.String(); have != want {
		t.Errorf("have: %q, want: %q", have, want)
	}

	out.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/templates", nil))
	if have, want := out.String(), "GET /v1/templates\n"; have != want {
		t.Errorf("have: %q, want: %q", have, want)
	}
}

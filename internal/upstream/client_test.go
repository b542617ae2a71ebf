package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:     srv.URL,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDevicesForwardsCookieAndParams(t *testing.T) {
	var gotCookie, gotAll string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAll = r.URL.Query().Get("all")
		w.Write([]byte(`[{"id":1,"name":"truck-1"}]`))
	}))

	body, status, err := c.Devices(context.Background(), SessionCookie("tok123"))
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if gotCookie != "JSESSIONID=tok123" {
		t.Fatalf("unexpected cookie %q", gotCookie)
	}
	if gotAll != "true" {
		t.Fatalf("expected all=true, got %q", gotAll)
	}
	if string(body) != `[{"id":1,"name":"truck-1"}]` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestGetNormalizesBareObject(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":7}`))
	}))

	body, _, err := c.Maintenance(context.Background(), SessionCookie("t"), 7)
	if err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
	if string(body) != `[{"id":7}]` {
		t.Fatalf("expected wrapped object, got %s", body)
	}
}

func TestGetNormalizesNull(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	}))

	body, _, err := c.Trips(context.Background(), SessionCookie("t"), 1, "2024-01-01", "2024-01-02")
	if err != nil {
		t.Fatalf("Trips: %v", err)
	}
	if string(body) != `[]` {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))

	_, status, err := c.Events(context.Background(), SessionCookie("t"), 1, "a", "b")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d", status)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, status, err := c.Groups(context.Background(), SessionCookie("t"))
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 passthrough, got %d", status)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt for 4xx, got %d", calls.Load())
	}
}

func TestGetExhaustedRetriesIsAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, _, err := c.Devices(context.Background(), SessionCookie("t"))
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestComputedAttributeRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/attributes/computed", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"id":11,"attribute":"fleet.alerts.state.acme","expression":"{}"}]`))
		case http.MethodPost:
			w.Write([]byte(`{"id":12,"attribute":"fleet.alerts.state.new","expression":"{}"}`))
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	var putPath string
	mux.HandleFunc("/attributes/computed/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		putPath = r.URL.Path
		w.Write([]byte(`{}`))
	})
	c := newTestClient(t, mux)

	auth := SessionCookie("admin")
	attrs, err := c.ComputedAttributes(context.Background(), auth)
	if err != nil {
		t.Fatalf("ComputedAttributes: %v", err)
	}
	if len(attrs) != 1 || attrs[0].ID != 11 {
		t.Fatalf("unexpected attrs: %+v", attrs)
	}

	created, err := c.CreateComputedAttribute(context.Background(), auth, ComputedAttribute{Attribute: "fleet.alerts.state.new", Expression: "{}"})
	if err != nil {
		t.Fatalf("CreateComputedAttribute: %v", err)
	}
	if created.ID != 12 {
		t.Fatalf("expected id 12, got %d", created.ID)
	}

	if err := c.UpdateComputedAttribute(context.Background(), auth, 12, `{"a":1}`); err != nil {
		t.Fatalf("UpdateComputedAttribute: %v", err)
	}
	if putPath != "/attributes/computed/12" {
		t.Fatalf("unexpected PUT path %q", putPath)
	}
}

func TestSessionCookie(t *testing.T) {
	if got := SessionCookie(""); got != "" {
		t.Fatalf("empty token must produce no credential, got %q", got)
	}
	if got := SessionCookie("abc"); got != "JSESSIONID=abc" {
		t.Fatalf("unexpected cookie %q", got)
	}
}

package restclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
	"github.com/Strob0t/TicketForge/internal/resilience"
)

// recordWaits replaces real backoff sleeps and records the requested delays.
type recordWaits struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *recordWaits) wait(_ context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, d)
	return nil
}

func testOptions(w *recordWaits) Options {
	return Options{
		Tool:  "test",
		Retry: resilience.Policy{MaxAttempts: 3, BaseDelay: time.Second},
		Wait:  w.wait,
	}
}

func statusServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"errorMessages":["nope"]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, base string, opts Options) *Client {
	t.Helper()
	c, err := New(base, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDo_ServerErrorRetriedThreeTimes(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusInternalServerError, &hits)
	waits := &recordWaits{}
	c := newTestClient(t, srv.URL, testOptions(waits))

	err := c.GetJSON(context.Background(), "/issue/1", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("expected APIError 500, got %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if len(waits.delays) != 2 || waits.delays[0] != time.Second || waits.delays[1] != 2*time.Second {
		t.Fatalf("expected waits [1s 2s], got %v", waits.delays)
	}
}

func TestDo_NotFoundNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusNotFound, &hits)
	c := newTestClient(t, srv.URL, testOptions(&recordWaits{}))

	err := c.GetJSON(context.Background(), "/issue/1", nil, nil)

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", got)
	}
}

func TestDo_AuthFailureNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var hits atomic.Int32
		srv := statusServer(t, status, &hits)
		c := newTestClient(t, srv.URL, testOptions(&recordWaits{}))

		err := c.GetJSON(context.Background(), "/myself", nil, nil)

		var authErr *AuthenticationError
		if !errors.As(err, &authErr) || authErr.StatusCode != status {
			t.Fatalf("expected AuthenticationError %d, got %v", status, err)
		}
		if got := hits.Load(); got != 1 {
			t.Fatalf("status %d: expected exactly 1 attempt, got %d", status, got)
		}
	}
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusBadRequest, &hits)
	c := newTestClient(t, srv.URL, testOptions(&recordWaits{}))

	err := c.PostJSON(context.Background(), "/comment", map[string]string{"a": "b"}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Retryable() {
		t.Fatalf("expected terminal APIError, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"10001"}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, testOptions(&recordWaits{}))

	var out struct {
		ID string `json:"id"`
	}
	if err := c.GetJSON(context.Background(), "/issue/1", nil, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "10001" {
		t.Fatalf("expected decoded id, got %q", out.ID)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDo_ReadTimeoutIsRetriedNetworkError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	opts := testOptions(&recordWaits{})
	opts.ReadTimeout = 50 * time.Millisecond
	c := newTestClient(t, srv.URL, opts)

	err := c.GetJSON(context.Background(), "/slow", nil, nil)

	var netErr *NetworkError
	if !errors.As(err, &netErr) || !netErr.Timeout {
		t.Fatalf("expected timeout NetworkError, got %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDo_PoolAcquisitionTimeout(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			close(entered)
			<-release
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	opts := testOptions(&recordWaits{})
	opts.MaxInFlight = 1
	opts.PoolTimeout = 20 * time.Millisecond
	c := newTestClient(t, srv.URL, opts)

	done := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/hold"})
		done <- err
	}()
	<-entered

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/blocked"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) || netErr.Op != "acquire connection" {
		t.Fatalf("expected pool acquisition NetworkError, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("held request failed: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected blocked request never to reach the server, got %d hits", got)
	}
}

func TestDo_CancelledContextStopsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusBadGateway, &hits)

	opts := testOptions(nil)
	opts.Wait = nil // real waits; cancellation must interrupt them
	opts.Retry.BaseDelay = time.Hour
	c := newTestClient(t, srv.URL, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.GetJSON(ctx, "/issue/1", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry wait ignored cancellation")
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", got)
	}
}

func TestDo_SendsAuthHeadersAndBodies(t *testing.T) {
	var gotAuth, gotAccept, gotType, gotBody, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("authtoken")
		gotAccept = r.Header.Get("Accept")
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		_ = r.ParseForm()
		gotBody = r.PostForm.Get("input_data")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	opts := testOptions(&recordWaits{})
	opts.Headers = http.Header{"Accept": {"application/vnd.manageengine.sdp.v3+json"}}
	c, err := New(srv.URL+"/", HeaderAuth("authtoken", "tok"), opts)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/api/v3/requests/1/notes",
		Query:  url.Values{"x": {"1"}},
		Form:   url.Values{"input_data": {`{"note":{}}`}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "tok" {
		t.Errorf("authtoken = %q", gotAuth)
	}
	if gotAccept != "application/vnd.manageengine.sdp.v3+json" {
		t.Errorf("accept = %q", gotAccept)
	}
	if !strings.HasPrefix(gotType, "application/x-www-form-urlencoded") {
		t.Errorf("content-type = %q", gotType)
	}
	if gotBody != `{"note":{}}` {
		t.Errorf("input_data = %q", gotBody)
	}
	if gotQuery != "x=1" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "not a url", "ftp://example.com", "/relative"} {
		if _, err := New(base, nil, Options{}); err == nil {
			t.Errorf("expected error for %q", base)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&AuthenticationError{StatusCode: 401}, "authentication failed"},
		{ErrNotFound, "endpoint not found"},
		{&NetworkError{Op: "request", Timeout: true, Err: errors.New("i/o timeout")}, "timeout"},
		{&NetworkError{Op: "request", Err: errors.New("connection refused")}, "connection error"},
		{&APIError{StatusCode: 502}, "unexpected HTTP status 502"},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); !strings.HasPrefix(got, tt.want) {
			t.Errorf("Describe(%v) = %q, want prefix %q", tt.err, got, tt.want)
		}
	}
}

func TestTicketFetchError(t *testing.T) {
	ctx := context.Background()

	err := TicketFetchError(ctx, "42", &AuthenticationError{StatusCode: 401})
	if !errors.Is(err, ticketplugin.ErrAuthentication) {
		t.Fatalf("auth failure: got %v, want ErrAuthentication", err)
	}
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) || authErr.StatusCode != 401 {
		t.Fatalf("auth failure should keep the cause, got %v", err)
	}

	for _, e := range []error{ErrNotFound, &APIError{StatusCode: 502}, &NetworkError{Op: "request", Err: errors.New("refused")}} {
		if got := TicketFetchError(ctx, "42", e); got != nil {
			t.Errorf("TicketFetchError(%v) = %v, want nil", e, got)
		}
	}
}

// countingMetrics implements ticketplugin.OutboundMetrics.
type countingMetrics struct {
	mu                         sync.Mutex
	attempts, retries, timings int
	failures                   []string
}

func (m *countingMetrics) OutboundAttempt(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *countingMetrics) OutboundRetry(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *countingMetrics) OutboundFailure(_ context.Context, _, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, kind)
}

func (m *countingMetrics) OutboundDuration(context.Context, string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings++
}

func TestDo_RecordsOutboundMetrics(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusBadGateway, &hits)
	m := &countingMetrics{}
	opts := testOptions(&recordWaits{})
	opts.Metrics = m
	c := newTestClient(t, srv.URL, opts)

	_ = c.GetJSON(context.Background(), "/issue/1", nil, nil)

	if m.attempts != 3 || m.retries != 2 || m.timings != 1 {
		t.Fatalf("attempts=%d retries=%d timings=%d, want 3 2 1", m.attempts, m.retries, m.timings)
	}
	if len(m.failures) != 1 {
		t.Fatalf("failures = %v, want one", m.failures)
	}
}

func TestOptionsFromPolicy(t *testing.T) {
	opts := OptionsFromPolicy("jira", ticketplugin.ClientPolicy{MaxAttempts: 5, ReadTimeout: 7 * time.Second}, 2*time.Second)
	if opts.Tool != "jira" || opts.Retry.MaxAttempts != 5 || opts.Retry.BaseDelay != 2*time.Second || opts.ReadTimeout != 7*time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}
}

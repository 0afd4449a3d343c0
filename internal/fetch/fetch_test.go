package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"opowatch-engine/internal/domain"
)

func testClient(baseURL string, maxAttempts int) *Client {
	return New(Config{
		BaseURL:     baseURL,
		UserAgent:   "test",
		MaxAttempts: maxAttempts,
		RetryBase:   time.Millisecond,
	}, NewHostLimiter(1000, 1000))
}

func TestSummaryRetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<sumario/>"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5)
	body, err := c.Summary(context.Background(), domain.NewDate(2024, time.January, 5))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if string(body) != "<sumario/>" {
		t.Fatalf("unexpected body: %q", body)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSummaryExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 4)
	_, err := c.Summary(context.Background(), domain.NewDate(2024, time.January, 5))
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("exhausted retries should still report transient, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls.Load())
	}
}

func TestSummaryNoSummaryIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5)
	_, err := c.Summary(context.Background(), domain.NewDate(2024, time.January, 6))
	if !errors.Is(err, ErrNoSummary) {
		t.Fatalf("expected ErrNoSummary, got %v", err)
	}
	if IsTransient(err) {
		t.Fatal("404 must not be transient")
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent failures must not retry, got %d attempts", calls.Load())
	}

	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != Permanent {
		t.Fatalf("expected permanent fetch.Error, got %v", err)
	}
}

func TestSummaryRequestsCompactDate(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("<sumario/>"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	_, err := c.Summary(context.Background(), domain.NewDate(2024, time.January, 5))
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/20240105" {
		t.Fatalf("expected /20240105, got %q", gotPath)
	}
}

func TestBodyExtractsNoticeText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
		  <div id="textoxslt"><p>Primera base de la   convocatoria.</p><p>Segunda base.</p></div>
		</body></html>`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	body, err := c.Body(context.Background(), srv.URL+"/notice")
	if err != nil {
		t.Fatal(err)
	}
	want := "Primera base de la convocatoria.\nSegunda base."
	if body != want {
		t.Fatalf("got %q, want %q", body, want)
	}
}

func TestBodyEmptyURL(t *testing.T) {
	t.Parallel()

	c := testClient("http://unused.invalid", 1)
	body, err := c.Body(context.Background(), "  ")
	if err != nil || body != "" {
		t.Fatalf("empty url should be a no-op, got %q, %v", body, err)
	}
}

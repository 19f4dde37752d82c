package rate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func countingServer(t *testing.T, hits *int32, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		handler(w, r)
	}))
}

func get(t *testing.T, client *http.Client, url string) (string, error) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body), nil
}

func TestGuardServesCacheWhenDenied(t *testing.T) {
	var hits int32
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	})
	defer server.Close()

	decl := Provider("flair").MaxRequestsPer(Minute, 1).CacheFor(time.Minute)
	client := WrapHTTP(decl, nil)

	first, err := get(t, client, server.URL+"/api/vents")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := get(t, client, server.URL+"/api/vents")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached body %q, got %q", first, second)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", got)
	}
}

func TestGuardMutationInvalidatesCache(t *testing.T) {
	var hits int32
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	defer server.Close()

	decl := Provider("flair").MaxRequestsPer(Minute, 2).CacheFor(time.Minute)
	client := WrapHTTP(decl, nil)

	if _, err := get(t, client, server.URL+"/api/vents/V1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPatch, server.URL+"/api/vents/V1", strings.NewReader(`{}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	resp.Body.Close()

	_, err = get(t, client, server.URL+"/api/vents/V1")
	var limited RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitError after invalidation, got %v", err)
	}
	if limited.Provider != "flair" || limited.Reason != "budget" {
		t.Fatalf("unexpected rate limit error: %+v", limited)
	}
}

func TestGuardHonorsRetryAfter(t *testing.T) {
	var hits int32
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer server.Close()

	decl := Provider("flair").MaxRequestsPer(Minute, 100).ReadHeaders(StandardHeaders())
	client := WrapHTTP(decl, nil)

	if _, err := get(t, client, server.URL+"/api/rooms"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	_, err := get(t, client, server.URL+"/api/rooms")
	var limited RateLimitError
	if !errors.As(err, &limited) || limited.Reason != "cooldown" {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	if limited.RetryAt.Before(time.Now().Add(100 * time.Second)) {
		t.Fatalf("retry time too early: %v", limited.RetryAt)
	}
}

func TestGuardWaitsForShortRetry(t *testing.T) {
	var hits int32
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	defer server.Close()

	decl := Provider("flair").MaxRequestsPer(Minute, 60).WaitUpTo(3 * time.Second)
	client := WrapHTTP(decl, nil)

	for i := 0; i < 61; i++ {
		if _, err := get(t, client, server.URL+"/api/pucks"); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 61 {
		t.Fatalf("expected 61 upstream hits, got %d", got)
	}
}

package indexnow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

func testClient(srv *httptest.Server) (*Client, Credentials) {
	client := &Client{
		http:   httpclient.NewRestyHTTPClient(5*time.Second, ""),
		scheme: "http",
	}
	creds := Credentials{
		Host:         "example.com",
		Key:          "secret-key",
		SearchEngine: strings.TrimPrefix(srv.URL, "http://"),
	}
	return client, creds
}

func subs(n int) []domain.Submission {
	out := make([]domain.Submission, n)
	for i := range out {
		out[i] = domain.Submission{
			URL:    fmt.Sprintf("https://example.com/p/%d", i),
			Reason: domain.NewReason(),
		}
	}
	return out
}

func TestSubmitSingleUsesGetWithQueryParams(t *testing.T) {
	var gotMethod, gotURL, gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotURL = r.URL.Query().Get("url")
		gotKey = r.URL.Query().Get("key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, creds := testClient(srv)
	submitted, err := client.SubmitBatches(context.Background(), creds, subs(1), nil)
	if err != nil {
		t.Fatalf("SubmitBatches: %v", err)
	}
	if submitted != 1 {
		t.Fatalf("submitted = %d want 1", submitted)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("method = %s want GET", gotMethod)
	}
	if gotPath != "/indexnow" {
		t.Errorf("path = %s want /indexnow", gotPath)
	}
	if gotURL != "https://example.com/p/0" || gotKey != "secret-key" {
		t.Errorf("query = url %q key %q", gotURL, gotKey)
	}
}

func TestSubmitBulkPostsJSONBody(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody bulkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, creds := testClient(srv)
	submitted, err := client.SubmitBatches(context.Background(), creds, subs(3), nil)
	if err != nil {
		t.Fatalf("SubmitBatches: %v", err)
	}
	if submitted != 1 {
		t.Fatalf("submitted = %d want 1", submitted)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s want POST", gotMethod)
	}
	if !strings.HasPrefix(gotContentType, "application/json") {
		t.Errorf("content type = %s", gotContentType)
	}
	if gotBody.Host != "example.com" || gotBody.Key != "secret-key" {
		t.Errorf("body host/key = %s/%s", gotBody.Host, gotBody.Key)
	}
	if len(gotBody.URLList) != 3 {
		t.Errorf("urlList length = %d want 3", len(gotBody.URLList))
	}
}

func TestSubmitBatchesPartitionsAtCeiling(t *testing.T) {
	type call struct {
		method string
		urls   int
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method}
		if r.Method == http.MethodPost {
			var body bulkRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				c.urls = len(body.URLList)
			}
		} else {
			c.urls = 1
		}
		calls = append(calls, c)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var persisted [][]domain.Submission
	client, creds := testClient(srv)
	submitted, err := client.SubmitBatches(context.Background(), creds, subs(MaxBatchSize+1), func(batch []domain.Submission) error {
		persisted = append(persisted, batch)
		return nil
	})
	if err != nil {
		t.Fatalf("SubmitBatches: %v", err)
	}
	if submitted != 2 {
		t.Fatalf("submitted = %d want 2", submitted)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(calls))
	}
	if calls[0].method != http.MethodPost || calls[0].urls != MaxBatchSize {
		t.Errorf("first batch = %s with %d urls, want POST with %d", calls[0].method, calls[0].urls, MaxBatchSize)
	}
	// The one-entry remainder uses the single-URL shape.
	if calls[1].method != http.MethodGet {
		t.Errorf("second batch method = %s want GET", calls[1].method)
	}
	if len(persisted) != 2 || len(persisted[0]) != MaxBatchSize || len(persisted[1]) != 1 {
		t.Errorf("onBatch batches = %d", len(persisted))
	}
}

func TestFatalStatusAbortsRemainingBatches(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	onBatchCalls := 0
	client, creds := testClient(srv)
	submitted, err := client.SubmitBatches(context.Background(), creds, subs(MaxBatchSize+1), func([]domain.Submission) error {
		onBatchCalls++
		return nil
	})
	if err == nil {
		t.Fatalf("expected error for 401 response")
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error should wrap ErrUnauthorized, got: %v", err)
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("error should name the failure, got: %v", err)
	}
	if requests != 1 {
		t.Errorf("second batch should not be attempted, got %d requests", requests)
	}
	if submitted != 0 || onBatchCalls != 0 {
		t.Errorf("nothing should be confirmed: submitted %d, onBatch %d", submitted, onBatchCalls)
	}
}

func TestRateLimitIsFatalWithoutRetry(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, creds := testClient(srv)
	_, err := client.SubmitBatches(context.Background(), creds, subs(2), nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got: %v", err)
	}
	if requests != 1 {
		t.Errorf("rate-limited batch must not be retried, got %d requests", requests)
	}
}

func TestUnexpectedStatusContinuesWithoutConfirming(t *testing.T) {
	statuses := []int{http.StatusInternalServerError, http.StatusOK}
	var i int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statuses[i])
		i++
	}))
	defer srv.Close()

	onBatchCalls := 0
	client, creds := testClient(srv)
	submitted, err := client.SubmitBatches(context.Background(), creds, subs(MaxBatchSize+1), func([]domain.Submission) error {
		onBatchCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("a 500 outside the status table must not abort the run: %v", err)
	}
	if submitted != 1 {
		t.Errorf("submitted = %d want 1 (only the confirmed batch)", submitted)
	}
	if onBatchCalls != 1 {
		t.Errorf("unconfirmed batch must not be persisted, onBatch calls = %d", onBatchCalls)
	}
}

func TestOnBatchErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, creds := testClient(srv)
	boom := errors.New("disk full")
	_, err := client.SubmitBatches(context.Background(), creds, subs(2), func([]domain.Submission) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected onBatch error to propagate, got: %v", err)
	}
}

func TestValidateCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected with incomplete credentials")
	}))
	defer srv.Close()

	client, _ := testClient(srv)
	_, err := client.SubmitBatches(context.Background(), Credentials{Host: "example.com"}, subs(1), nil)
	if err == nil {
		t.Fatalf("expected error for missing key and searchengine")
	}
	if !strings.Contains(err.Error(), "key") || !strings.Contains(err.Error(), "searchengine") {
		t.Errorf("error should list missing fields, got: %v", err)
	}
}

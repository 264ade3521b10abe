// Package indexnow submits URL batches to an IndexNow-compatible
// notification endpoint.
package indexnow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/logger"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

// MaxBatchSize is the protocol ceiling on URLs per bulk submission.
const MaxBatchSize = 10_000

// Fatal submission outcomes. Each is remediation-aware: the message tells the
// operator what to fix, and none of them is retried automatically.
var (
	// ErrBadRequest: the request or the URLs in it are malformed.
	ErrBadRequest = errors.New("Bad Request: invalid format or malformed URLs; check source URLs and host configuration")
	// ErrUnauthorized: the API key is missing or invalid.
	ErrUnauthorized = errors.New("Unauthorized: invalid or missing API key; verify the key and its key file at https://<host>/<key>.txt")
	// ErrForbidden: key and host do not match.
	ErrForbidden = errors.New("Forbidden: key mismatch or invalid host; ensure the key file is served by the configured host")
	// ErrUnprocessable: submitted URLs are not owned by the declared host.
	ErrUnprocessable = errors.New("Unprocessable Entity: URLs do not belong to the configured host")
	// ErrRateLimited: too many submissions for now. Fatal for this run; the
	// caller may retry later, the engine never does.
	ErrRateLimited = errors.New("Too Many Requests: rate limit exceeded; space out submissions and retry later")
)

// Credentials identifies a source's notification target.
type Credentials struct {
	Host         string
	Key          string
	SearchEngine string
}

// bulkRequest is the wire shape for multi-URL submissions.
type bulkRequest struct {
	Host    string   `json:"host"`
	Key     string   `json:"key"`
	URLList []string `json:"urlList"`
}

// Client talks to the notification endpoint. A single-entry batch uses a GET
// with query parameters; a multi-entry batch uses a bulk JSON POST. The
// remote API accepts different payloads by cardinality, so both shapes are
// required.
type Client struct {
	http   *resty.Client
	scheme string
}

// NewClient builds a submission client with the given timeout and User-Agent.
func NewClient(timeout time.Duration, userAgent string) *Client {
	return &Client{
		http:   httpclient.NewRestyHTTPClient(timeout, userAgent),
		scheme: "https",
	}
}

// SubmitBatches partitions subs into consecutive chunks of at most
// MaxBatchSize and submits them in order. After each fully successful batch,
// onBatch (if non-nil) is invoked so the caller can persist that batch's
// state; an onBatch error propagates immediately. A fatal submission outcome
// aborts the remaining batches. Returns the number of batches fully
// submitted.
func (c *Client) SubmitBatches(ctx context.Context, creds Credentials, subs []domain.Submission, onBatch func([]domain.Submission) error) (int, error) {
	if c == nil || c.http == nil {
		return 0, fmt.Errorf("indexnow client is not initialized")
	}
	if err := validateCredentials(creds); err != nil {
		return 0, err
	}

	total := len(subs)
	numBatches := (total + MaxBatchSize - 1) / MaxBatchSize
	submitted := 0

	for i := 0; i < numBatches; i++ {
		lo := i * MaxBatchSize
		hi := lo + MaxBatchSize
		if hi > total {
			hi = total
		}
		batch := subs[lo:hi]

		var status int
		var err error
		if len(batch) == 1 {
			status, err = c.submitSingle(ctx, creds, batch[0])
		} else {
			status, err = c.submitBulk(ctx, creds, batch)
		}
		if err != nil {
			return submitted, fmt.Errorf("submit batch %d/%d: %w", i+1, numBatches, err)
		}

		if fatal := outcomeForStatus(status); fatal != nil {
			return submitted, fmt.Errorf("submit batch %d/%d (%d urls): status %d: %w", i+1, numBatches, len(batch), status, fatal)
		}
		if status/100 != 2 {
			// Outside the protocol table and not fatal: the run continues,
			// but an unconfirmed batch is never persisted.
			logger.WarnObj("unexpected submission status", "submit_status", map[string]any{
				"batch":  i + 1,
				"of":     numBatches,
				"status": status,
				"urls":   len(batch),
			})
			continue
		}

		if onBatch != nil {
			if err := onBatch(batch); err != nil {
				return submitted, fmt.Errorf("record batch %d/%d: %w", i+1, numBatches, err)
			}
		}
		submitted++
	}

	return submitted, nil
}

// submitSingle issues the one-URL wire shape: GET /indexnow?url=..&key=..
func (c *Client) submitSingle(ctx context.Context, creds Credentials, sub domain.Submission) (int, error) {
	endpoint := fmt.Sprintf("%s://%s/indexnow", c.scheme, creds.SearchEngine)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"url": sub.URL,
			"key": creds.Key,
		}).
		Get(endpoint)
	if err != nil {
		return 0, fmt.Errorf("single submission: %w", err)
	}
	return resp.StatusCode(), nil
}

// submitBulk issues the multi-URL wire shape: POST /indexnow with
// {host, key, urlList}.
func (c *Client) submitBulk(ctx context.Context, creds Credentials, batch []domain.Submission) (int, error) {
	endpoint := fmt.Sprintf("%s://%s/indexnow", c.scheme, creds.SearchEngine)

	urls := make([]string, len(batch))
	for i, sub := range batch {
		urls[i] = sub.URL
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetBody(bulkRequest{
			Host:    creds.Host,
			Key:     creds.Key,
			URLList: urls,
		}).
		Post(endpoint)
	if err != nil {
		return 0, fmt.Errorf("bulk submission: %w", err)
	}
	return resp.StatusCode(), nil
}

// outcomeForStatus maps a response status onto the failure taxonomy.
// 200 and 202 are success (202 is accepted for async processing); the listed
// 4xx statuses are fatal; anything else is nil and the caller decides.
func outcomeForStatus(status int) error {
	switch status {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

func validateCredentials(creds Credentials) error {
	var missing []string
	if strings.TrimSpace(creds.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(creds.Key) == "" {
		missing = append(missing, "key")
	}
	if strings.TrimSpace(creds.SearchEngine) == "" {
		missing = append(missing, "searchengine")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete credentials: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

const rssBody = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <item>
      <title>First</title>
      <link>https://example.com/posts/first</link>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>No dates</title>
      <link>https://example.com/posts/second</link>
    </item>
    <item>
      <title>Only guid</title>
      <guid>https://example.com/posts/third</guid>
    </item>
    <item>
      <title>Unusable</title>
      <guid isPermaLink="false">tag:example.com,2024:/p/4</guid>
    </item>
  </channel>
</rss>`

const atomBody = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom</title>
  <entry>
    <title>Revised</title>
    <link href="https://example.com/atom/one"/>
    <published>2024-01-01T00:00:00Z</published>
    <updated>2024-03-05T12:00:00Z</updated>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	entries, err := Parse([]byte(rssBody))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (unusable item dropped), got %d", len(entries))
	}

	if entries[0].URL != "https://example.com/posts/first" {
		t.Errorf("entries[0].URL = %s", entries[0].URL)
	}
	if entries[0].LastModified == nil || *entries[0].LastModified != "2024-01-01T10:00:00Z" {
		t.Errorf("entries[0].LastModified = %v", entries[0].LastModified)
	}
	if entries[1].LastModified != nil {
		t.Errorf("item without dates must carry no marker, got %q", *entries[1].LastModified)
	}
	if entries[2].URL != "https://example.com/posts/third" {
		t.Errorf("guid fallback failed: %s", entries[2].URL)
	}
}

func TestParseAtomPrefersUpdated(t *testing.T) {
	entries, err := Parse([]byte(atomBody))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].LastModified == nil || *entries[0].LastModified != "2024-03-05T12:00:00Z" {
		t.Errorf("updated should win over published, got %v", entries[0].LastModified)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not a feed at all")); err == nil {
		t.Fatalf("expected parse error")
	}
}

type fakeResponse struct {
	body       []byte
	statusCode int
}

func (f fakeResponse) Body() []byte    { return f.body }
func (f fakeResponse) StatusCode() int { return f.statusCode }

type fakeHTTPClient struct {
	resp fakeResponse
	err  error
}

func (f *fakeHTTPClient) Get(context.Context, string, map[string]string) (httpclient.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestEntriesFetches(t *testing.T) {
	fetcher := NewFetcher(&fakeHTTPClient{resp: fakeResponse{body: []byte(rssBody), statusCode: 200}}, nil)
	entries, err := fetcher.Entries(context.Background(), "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestEntriesNonOKStatusFails(t *testing.T) {
	fetcher := NewFetcher(&fakeHTTPClient{resp: fakeResponse{body: []byte("gone"), statusCode: 410}}, nil)
	if _, err := fetcher.Entries(context.Background(), "https://example.com/feed.xml"); err == nil {
		t.Fatalf("expected error for 410 response")
	}
}

func TestEntriesTransportErrorFails(t *testing.T) {
	fetcher := NewFetcher(&fakeHTTPClient{err: errors.New("refused")}, nil)
	if _, err := fetcher.Entries(context.Background(), "https://example.com/feed.xml"); err == nil {
		t.Fatalf("expected transport error")
	}
}

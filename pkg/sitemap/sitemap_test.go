package sitemap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

// fakeResponse lets us stub the httpclient.Client interface.
type fakeResponse struct {
	body       []byte
	statusCode int
}

func (f fakeResponse) Body() []byte    { return f.body }
func (f fakeResponse) StatusCode() int { return f.statusCode }

// fakeHTTPClient returns canned responses per URL to avoid network calls.
type fakeHTTPClient struct {
	responses map[string]fakeResponse
	calls     []string
}

func (f *fakeHTTPClient) Get(_ context.Context, url string, _ map[string]string) (httpclient.Response, error) {
	f.calls = append(f.calls, url)
	resp, ok := f.responses[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return resp, nil
}

func leaf(urls ...string) fakeResponse {
	var b strings.Builder
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, u := range urls {
		b.WriteString("<url><loc>" + u + "</loc></url>")
	}
	b.WriteString(`</urlset>`)
	return fakeResponse{body: []byte(b.String()), statusCode: 200}
}

func index(children ...string) fakeResponse {
	var b strings.Builder
	b.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, c := range children {
		b.WriteString("<sitemap><loc>" + c + "</loc></sitemap>")
	}
	b.WriteString(`</sitemapindex>`)
	return fakeResponse{body: []byte(b.String()), statusCode: 200}
}

func TestEntriesResolvesIndexTree(t *testing.T) {
	client := &fakeHTTPClient{responses: map[string]fakeResponse{
		"https://example.com/sitemap.xml": index("https://example.com/s1.xml", "https://example.com/s2.xml"),
		"https://example.com/s1.xml":      leaf("https://example.com/a", "https://example.com/b"),
		"https://example.com/s2.xml":      leaf("https://example.com/b", "https://example.com/c"),
	}}

	tr := NewTraverser(client, nil)
	entries, err := tr.Entries(context.Background(), "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}

	want := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, u := range want {
		if entries[i].URL != u {
			t.Errorf("entries[%d].URL = %s want %s", i, entries[i].URL, u)
		}
	}
}

func TestEntriesParsesLastmod(t *testing.T) {
	body := `<urlset>
  <url><loc>https://example.com/a</loc><lastmod>2024-05-01</lastmod></url>
  <url><loc>https://example.com/b</loc><lastmod>  </lastmod></url>
  <url><loc>https://example.com/c</loc></url>
  <url><loc>   </loc></url>
</urlset>`
	client := &fakeHTTPClient{responses: map[string]fakeResponse{
		"https://example.com/sitemap.xml": {body: []byte(body), statusCode: 200},
	}}

	tr := NewTraverser(client, nil)
	entries, err := tr.Entries(context.Background(), "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after dropping blank loc, got %d", len(entries))
	}
	if entries[0].LastModified == nil || *entries[0].LastModified != "2024-05-01" {
		t.Errorf("entries[0].LastModified = %v want 2024-05-01", entries[0].LastModified)
	}
	if entries[1].LastModified != nil {
		t.Errorf("blank lastmod should carry no marker, got %q", *entries[1].LastModified)
	}
	if entries[2].LastModified != nil {
		t.Errorf("missing lastmod should carry no marker, got %q", *entries[2].LastModified)
	}
}

func TestEntriesCyclicIndexTerminates(t *testing.T) {
	// The index references itself; the depth ceiling must stop the walk.
	client := &fakeHTTPClient{responses: map[string]fakeResponse{
		"https://example.com/sitemap.xml": index("https://example.com/sitemap.xml"),
	}}

	tr := NewTraverser(client, nil)
	entries, err := tr.Entries(context.Background(), "https://example.com/sitemap.xml")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries from a pure cycle, got %d", len(entries))
	}
	if len(client.calls) != MaxDepth+1 {
		t.Errorf("expected %d fetches before the ceiling, got %d", MaxDepth+1, len(client.calls))
	}
}

func TestEntriesFetchFailureAborts(t *testing.T) {
	client := &fakeHTTPClient{responses: map[string]fakeResponse{
		"https://example.com/sitemap.xml": index("https://example.com/ok.xml", "https://example.com/missing.xml"),
		"https://example.com/ok.xml":      leaf("https://example.com/a"),
	}}

	tr := NewTraverser(client, nil)
	_, err := tr.Entries(context.Background(), "https://example.com/sitemap.xml")
	if err == nil {
		t.Fatalf("expected error for unreachable child sitemap")
	}
	if !strings.Contains(err.Error(), "https://example.com/missing.xml") {
		t.Errorf("error should name the failing URL, got: %v", err)
	}
}

func TestEntriesNonOKStatusAborts(t *testing.T) {
	client := &fakeHTTPClient{responses: map[string]fakeResponse{
		"https://example.com/sitemap.xml": {body: []byte("gone"), statusCode: 404},
	}}

	tr := NewTraverser(client, nil)
	_, err := tr.Entries(context.Background(), "https://example.com/sitemap.xml")
	if err == nil {
		t.Fatalf("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status, got: %v", err)
	}
}

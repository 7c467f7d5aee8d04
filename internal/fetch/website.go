package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"contentpipe/internal/breaker"
	"contentpipe/internal/domain/entity"
	"contentpipe/internal/resilience/retry"
)

// maxWebsiteBodySize caps the HTML body read to bound memory use
// against a misbehaving or hostile server.
const maxWebsiteBodySize = 10 * 1024 * 1024

// WebsiteAdapter fetches one WEBSITE source's page and extracts its
// main article content with go-readability for body
// extraction. goquery additionally pulls metadata go-readability
// doesn't surface (published time, canonical URL) straight out of the
// document's <head>.
type WebsiteAdapter struct {
	client    *http.Client
	breakers  *breaker.Registry
	allowlist *Allowlist
}

// NewWebsiteAdapter builds a WebsiteAdapter with a redirect-validating,
// TLS-hardened client. allowlist restricts which domains are scraped
// for full-article content; nil allows every domain.
func NewWebsiteAdapter(breakers *breaker.Registry, allowlist *Allowlist) *WebsiteAdapter {
	return &WebsiteAdapter{
		breakers:  breakers,
		allowlist: allowlist,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				if err := entity.ValidateURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect target rejected: %w", err)
				}
				return nil
			},
		},
	}
}

// Fetch implements Adapter. WEBSITE sources yield at most one item per
// call (the page itself); there is no pagination.
func (a *WebsiteAdapter) Fetch(ctx context.Context, source entity.SourceDescriptor, cursor string) (Result, error) {
	settings, ok := source.Settings.(entity.WebsiteSettings)
	if !ok {
		return Result{}, fmt.Errorf("fetch: website adapter cannot handle settings type %T", source.Settings)
	}
	if err := entity.ValidateURL(settings.URL); err != nil {
		return Result{}, entity.NewError(entity.KindInvalidData, err)
	}
	if !a.allowlist.AllowsURL(settings.URL) {
		return Result{Counts: Counts{Skipped: 1}}, nil
	}

	result, err := a.breakers.Execute(ctx, breaker.DependencyWebScraper, func(ctx context.Context) (interface{}, error) {
		var item entity.RawItem
		retryErr := retry.WithBackoff(ctx, retry.WebScraperConfig(), func() error {
			raw, fetchErr := a.doFetch(ctx, settings.URL)
			if fetchErr != nil {
				return fetchErr
			}
			item = raw
			return nil
		})
		return item, retryErr
	})
	if err != nil {
		return Result{}, classifyWebsiteError(err)
	}

	return Result{
		Items:  []entity.RawItem{result.(entity.RawItem)},
		More:   false,
		Counts: Counts{Fetched: 1},
	}, nil
}

func (a *WebsiteAdapter) doFetch(ctx context.Context, pageURL string) (entity.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return entity.RawItem{}, fmt.Errorf("build website request: %w", err)
	}
	req.Header.Set("User-Agent", "contentpipe/1.0 (+ingestion pipeline)")

	resp, err := a.client.Do(req)
	if err != nil {
		return entity.RawItem{}, fmt.Errorf("website request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return entity.RawItem{}, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	limited := io.LimitReader(resp.Body, maxWebsiteBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return entity.RawItem{}, fmt.Errorf("read website body: %w", err)
	}
	if len(body) > maxWebsiteBodySize {
		return entity.RawItem{}, entity.NewError(entity.KindResourceExhausted, fmt.Errorf("website body exceeded %d bytes", maxWebsiteBodySize))
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return entity.RawItem{}, fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return entity.RawItem{}, fmt.Errorf("extract article: %w", err)
	}
	text := article.TextContent
	if text == "" {
		text = article.Content
	}
	if text == "" {
		return entity.RawItem{}, entity.NewError(entity.KindInvalidData, fmt.Errorf("no extractable content at %s", pageURL))
	}

	publishedAt, author := extractMetadata(body)

	title := article.Title
	if title == "" {
		title = pageURL
	}

	return entity.RawItem{
		ExternalID:  pageURL,
		Kind:        entity.SourceKindWebsite,
		URL:         pageURL,
		Title:       title,
		Body:        text,
		Excerpt:     article.Excerpt,
		Author:      author,
		PublishedAt: publishedAt,
		FetchedAt:   time.Now(),
	}, nil
}

// extractMetadata pulls a published-time and byline out of common
// <meta> tags that go-readability's Article doesn't expose directly.
func extractMetadata(html []byte) (*time.Time, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil, ""
	}

	var publishedAt *time.Time
	for _, sel := range []string{
		`meta[property="article:published_time"]`,
		`meta[name="article:published_time"]`,
		`meta[name="date"]`,
		`meta[itemprop="datePublished"]`,
	} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok && content != "" {
			if t, err := time.Parse(time.RFC3339, content); err == nil {
				publishedAt = &t
				break
			}
		}
	}

	author, _ := doc.Find(`meta[name="author"]`).First().Attr("content")
	if author == "" {
		author, _ = doc.Find(`meta[property="article:author"]`).First().Attr("content")
	}

	return publishedAt, author
}

func classifyWebsiteError(err error) error {
	if entity.KindOf(err) != entity.KindInternalError {
		return err
	}
	if entity.IsContextError(err) {
		return entity.NewError(entity.KindCancelled, err)
	}
	return entity.NewError(entity.KindUpstreamUnavailable, err)
}

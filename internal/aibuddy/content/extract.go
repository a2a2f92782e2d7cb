// Package content fetches web pages and reduces them to readable text for
// the summarization flow.
package content

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/bdobrica/aibuddy/common/retry"
)

const (
	// maxContentChars caps the extracted text so a single page cannot blow
	// the prompt budget before truncation even runs.
	maxContentChars = 24000

	defaultTimeout = 20 * time.Second
)

// Extractor fetches URLs and strips them to plain text. Safe for concurrent
// use.
type Extractor struct {
	client *http.Client
}

// NewExtractor returns an Extractor with a sane HTTP timeout.
func NewExtractor() *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Extract fetches url and returns its readable text content. Transient HTTP
// failures (network errors, 5xx) are retried with backoff; 4xx responses are
// not. Returns an empty string with no error when the page yields no text.
func (e *Extractor) Extract(ctx context.Context, url string) (string, error) {
	var body string

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry:  isTransient,
	}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return permanentError{fmt.Errorf("content: create request: %w", err)}
		}
		req.Header.Set("User-Agent", "AiBuddy/1.0 (+summarizer)")

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("content: fetch %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("content: fetch %s: HTTP %d", url, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return permanentError{fmt.Errorf("content: fetch %s: HTTP %d", url, resp.StatusCode)}
		}

		text, err := extractText(resp.Body)
		if err != nil {
			return permanentError{fmt.Errorf("content: parse %s: %w", url, err)}
		}
		body = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

// permanentError marks failures that a retry cannot fix.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func isTransient(err error) bool {
	_, permanent := err.(permanentError)
	return !permanent
}

// skipElements are subtrees that carry no readable page content.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
}

// extractText walks the HTML tree collecting text nodes outside skipped
// subtrees, collapsing whitespace, and capping the result length.
func extractText(r interface{ Read([]byte) (int, error) }) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if b.Len() >= maxContentChars {
			return
		}
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := b.String()
	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}
	return text, nil
}

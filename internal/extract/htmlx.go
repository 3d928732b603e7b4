package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	netURL "net/url"
)

// WebOptions tunes the HTML/URL extractor, grounded on the teacher's
// internal/tools/web.FetchOptions shape.
type WebOptions struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
}

// HTMLExtractor fetches a URL (or reads already-supplied HTML bytes), strips
// boilerplate with readability, then converts the cleaned HTML to markdown
// paragraph/heading blocks.
type HTMLExtractor struct {
	opts   WebOptions
	client *http.Client
}

func NewHTMLExtractor(opts WebOptions) *HTMLExtractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50 * 1024 * 1024
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Timeout: opts.Timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &HTMLExtractor{opts: opts, client: client}
}

func (e *HTMLExtractor) Extract(ctx context.Context, in Input) (RawDocument, error) {
	html, finalURL, err := e.acquire(ctx, in)
	if err != nil {
		return RawDocument{}, err
	}

	var articleHTML, title string
	base, _ := netURL.Parse(finalURL)
	if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}
	if articleHTML == "" {
		articleHTML = html
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(finalURL)))
	if err != nil {
		return RawDocument{}, extractionFailed("html_to_markdown: " + err.Error())
	}

	raw, perr := PassthroughExtractor{}.Extract(ctx, Input{Data: []byte(md), Format: "markdown"})
	if perr != nil {
		return RawDocument{}, perr
	}
	raw.Title = title
	raw.Metadata = map[string]string{"source_url": finalURL}
	return raw, nil
}

// acquire fetches in.URL over HTTP, enforcing MaxBytes/Timeout before any
// downstream processing (including embedding), per the size_exceeded
// boundary behavior; if in.URL is empty it treats in.Data as already-fetched
// HTML bytes.
func (e *HTMLExtractor) acquire(ctx context.Context, in Input) (html string, finalURL string, err error) {
	if in.URL == "" {
		return string(in.Data), "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return "", "", extractionFailed("invalid_url")
	}
	req.Header.Set("User-Agent", "finderskeepers-ingest/1.0")
	resp, err := e.client.Do(req)
	if err != nil {
		return "", "", extractionFailed("fetch_failed: " + err.Error())
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, e.opts.MaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", "", extractionFailed("read_body: " + err.Error())
	}
	if int64(len(body)) > e.opts.MaxBytes {
		return "", "", extractionFailed("size_exceeded")
	}
	return string(body), resp.Request.URL.String(), nil
}

func baseOrigin(raw string) string {
	u, err := netURL.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

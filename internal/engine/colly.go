// Package engine provides the crawl engine implementations: a fast
// Colly-based engine for static pages and a chromedp-based engine for
// pages that need JavaScript rendering.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/crawl"
)

// CollyEngine fetches and extracts static pages via the Colly collector.
type CollyEngine struct {
	baseCollector *colly.Collector
	userAgent     string
	logger        *zap.Logger
}

// NewCollyEngine constructs a configured Colly-based engine. The base
// collector carries the shared transport; each crawl runs on a clone so
// per-task options never leak between tasks.
func NewCollyEngine(userAgent string, logger *zap.Logger) *CollyEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := colly.NewCollector(
		colly.UserAgent(userAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	})

	return &CollyEngine{
		baseCollector: base,
		userAgent:     userAgent,
		logger:        logger,
	}
}

type pageCapture struct {
	title      string
	paragraphs []string
	bodyText   string
	html       string
	selected   []string
	links      []map[string]any
	images     []any
	statusCode int
	finalURL   string
	contentTyp string
}

// Crawl fetches rawURL and extracts content per cfg.
func (e *CollyEngine) Crawl(ctx context.Context, rawURL string, cfg crawl.Config) (crawl.RawResult, error) {
	collector := e.baseCollector.Clone()
	collector.SetRequestTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	capture := &pageCapture{}
	errCh := make(chan error, 1)
	var once sync.Once
	fail := func(err error) {
		once.Do(func() { errCh <- err })
	}

	collector.OnRequest(func(r *colly.Request) {
		if cfg.UserAgent != "" {
			r.Headers.Set("User-Agent", cfg.UserAgent)
		}
		for k, v := range cfg.Headers {
			r.Headers.Set(k, v)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		capture.statusCode = r.StatusCode
		capture.finalURL = r.Request.URL.String()
		if r.Headers != nil {
			capture.contentTyp = r.Headers.Get("Content-Type")
		}
	})

	collector.OnHTML("html", func(el *colly.HTMLElement) {
		html, err := el.DOM.Html()
		if err == nil {
			capture.html = "<html>" + html + "</html>"
		}
	})

	collector.OnHTML("title", func(el *colly.HTMLElement) {
		if capture.title == "" {
			capture.title = strings.TrimSpace(el.Text)
		}
	})

	collector.OnHTML("body", func(el *colly.HTMLElement) {
		capture.bodyText = collapseWhitespace(el.Text)
	})

	collector.OnHTML("p", func(el *colly.HTMLElement) {
		text := collapseWhitespace(el.Text)
		if text != "" {
			capture.paragraphs = append(capture.paragraphs, text)
		}
	})

	collector.OnHTML("a[href]", func(el *colly.HTMLElement) {
		link := e.extractLink(el, rawURL, cfg)
		if link != nil {
			capture.links = append(capture.links, link)
		}
	})

	collector.OnHTML("img[src]", func(el *colly.HTMLElement) {
		src := el.Request.AbsoluteURL(el.Attr("src"))
		if src == "" {
			return
		}
		capture.images = append(capture.images, map[string]any{
			"url":   src,
			"alt":   el.Attr("alt"),
			"title": el.Attr("title"),
		})
	})

	if cfg.CSSSelector != "" {
		collector.OnHTML(cfg.CSSSelector, func(el *colly.HTMLElement) {
			text := collapseWhitespace(el.Text)
			if text != "" {
				capture.selected = append(capture.selected, text)
			}
		})
	}

	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		fail(err)
	})

	if err := collector.Visit(rawURL); err != nil {
		return crawl.RawResult{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return crawl.RawResult{}, err
	}
	select {
	case err := <-errCh:
		return crawl.RawResult{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	default:
	}

	return e.buildResult(capture, rawURL, cfg), nil
}

func (e *CollyEngine) extractLink(el *colly.HTMLElement, pageURL string, cfg crawl.Config) map[string]any {
	href := el.Request.AbsoluteURL(el.Attr("href"))
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return nil
	}
	internal := sameHost(pageURL, href)
	if !internal && cfg.ExcludeExternalLinks {
		return nil
	}
	if cfg.ExcludeSocialMediaLinks && isSocialMediaURL(href) {
		return nil
	}
	return map[string]any{
		"url":      href,
		"text":     collapseWhitespace(el.Text),
		"internal": internal,
	}
}

func (e *CollyEngine) buildResult(capture *pageCapture, rawURL string, cfg crawl.Config) crawl.RawResult {
	internal := make([]any, 0, len(capture.links))
	external := make([]any, 0)
	for _, link := range capture.links {
		if isInternal, _ := link["internal"].(bool); isInternal {
			internal = append(internal, link)
		} else {
			external = append(external, link)
		}
	}

	raw := crawl.RawResult{
		Title:    capture.title,
		HTML:     capture.html,
		Text:     capture.bodyText,
		Markdown: synthesizeMarkdown(capture, cfg.WordCountThreshold),
		Links: map[string][]any{
			"internal": internal,
			"external": external,
		},
		Media: map[string][]any{
			"images": capture.images,
		},
		Metadata: map[string]any{
			"status_code":  capture.statusCode,
			"content_type": capture.contentTyp,
			"final_url":    capture.finalURL,
		},
	}
	if len(capture.selected) > 0 {
		raw.ExtractedContent = strings.Join(capture.selected, "\n\n")
	}
	return raw
}

// synthesizeMarkdown renders a markdown view of the page: a title
// heading followed by the content blocks that meet the word count
// threshold. When no block qualifies, the full body text is used so a
// short page still produces output.
func synthesizeMarkdown(capture *pageCapture, wordThreshold int) string {
	var blocks []string
	for _, p := range capture.paragraphs {
		if len(strings.Fields(p)) >= wordThreshold {
			blocks = append(blocks, p)
		}
	}
	body := strings.Join(blocks, "\n\n")
	if body == "" {
		body = capture.bodyText
	}

	var sb strings.Builder
	if capture.title != "" {
		sb.WriteString("# ")
		sb.WriteString(capture.title)
		sb.WriteString("\n\n")
	}
	sb.WriteString(body)
	return sb.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sameHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(ua.Hostname(), ub.Hostname())
}

var socialMediaHosts = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"linkedin.com",
	"tiktok.com",
	"pinterest.com",
	"reddit.com",
}

func isSocialMediaURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, social := range socialMediaHosts {
		if host == social || strings.HasSuffix(host, "."+social) {
			return true
		}
	}
	return false
}

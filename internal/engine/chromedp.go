package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/crawl"
)

// HeadlessConfig tunes the chromedp engine.
type HeadlessConfig struct {
	UserAgent   string
	MaxParallel int
	NavTimeout  time.Duration
}

// HeadlessEngine crawls pages with JavaScript enabled using headless
// Chrome via chromedp. Tabs are created per crawl off a shared warmed-up
// browser; MaxParallel bounds how many run at once.
type HeadlessEngine struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	navTimeout      time.Duration
	userAgent       string
	logger          *zap.Logger
}

// NewHeadlessEngine starts the browser and verifies it is usable.
func NewHeadlessEngine(cfg HeadlessConfig, logger *zap.Logger) (*HeadlessEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	parallel := cfg.MaxParallel
	if parallel <= 0 {
		parallel = 1
	}

	return &HeadlessEngine{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, parallel),
		navTimeout:      cfg.NavTimeout,
		userAgent:       cfg.UserAgent,
		logger:          logger,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (e *HeadlessEngine) Close() error {
	if e == nil {
		return nil
	}
	e.browserCancel()
	e.allocatorCancel()
	return nil
}

type extractedLink struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

type extractedImage struct {
	URL   string `json:"url"`
	Alt   string `json:"alt"`
	Title string `json:"title"`
}

// Crawl renders rawURL in a fresh tab and extracts content per cfg.
func (e *HeadlessEngine) Crawl(ctx context.Context, rawURL string, cfg crawl.Config) (crawl.RawResult, error) {
	release, err := e.acquireSlot(ctx)
	if err != nil {
		return crawl.RawResult{}, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if e.navTimeout > 0 && e.navTimeout < timeout {
		timeout = e.navTimeout
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	userAgent := e.userAgent
	if cfg.UserAgent != "" {
		userAgent = cfg.UserAgent
	}

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(userAgent),
	}
	if len(cfg.Headers) > 0 {
		headers := make(network.Headers, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if cfg.WaitFor != "" {
		tasks = append(tasks, chromedp.WaitVisible(cfg.WaitFor, chromedp.ByQuery))
	}
	if cfg.RemoveOverlayElements {
		tasks = append(tasks, chromedp.Evaluate(removeOverlaysJS, nil))
	}

	var (
		html      string
		title     string
		bodyText  string
		links     []extractedLink
		images    []extractedImage
		extracted string
	)
	tasks = append(tasks,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &bodyText),
		chromedp.Evaluate(extractLinksJS, &links),
		chromedp.Evaluate(extractImagesJS, &images),
	)
	if cfg.CSSSelector != "" {
		tasks = append(tasks, chromedp.Evaluate(
			fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(el => el.innerText.trim()).filter(t => t).join("\n\n")`, cfg.CSSSelector),
			&extracted,
		))
	}

	var screenshot []byte
	if cfg.Screenshot {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			screenshot, err = page.CaptureScreenshot().Do(ctx)
			return err
		}))
	}

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawl.RawResult{}, ctxErr
		}
		return crawl.RawResult{}, fmt.Errorf("chromedp run: %w", err)
	}

	return e.buildResult(rawURL, cfg, renderedPage{
		html:       html,
		title:      title,
		bodyText:   bodyText,
		links:      links,
		images:     images,
		extracted:  extracted,
		screenshot: screenshot,
	}), nil
}

type renderedPage struct {
	html       string
	title      string
	bodyText   string
	links      []extractedLink
	images     []extractedImage
	extracted  string
	screenshot []byte
}

func (e *HeadlessEngine) buildResult(rawURL string, cfg crawl.Config, page renderedPage) crawl.RawResult {
	internal := make([]any, 0, len(page.links))
	external := make([]any, 0)
	for _, link := range page.links {
		if link.URL == "" || strings.HasPrefix(link.URL, "javascript:") {
			continue
		}
		if cfg.ExcludeSocialMediaLinks && isSocialMediaURL(link.URL) {
			continue
		}
		entry := map[string]any{"url": link.URL, "text": link.Text}
		if sameHost(rawURL, link.URL) {
			internal = append(internal, entry)
		} else if !cfg.ExcludeExternalLinks {
			external = append(external, entry)
		}
	}

	imageEntries := make([]any, 0, len(page.images))
	for _, img := range page.images {
		if img.URL == "" {
			continue
		}
		imageEntries = append(imageEntries, map[string]any{
			"url":   img.URL,
			"alt":   img.Alt,
			"title": img.Title,
		})
	}

	bodyText := collapseWhitespace(page.bodyText)
	capture := &pageCapture{
		title:      page.title,
		bodyText:   bodyText,
		paragraphs: splitBlocks(page.bodyText),
	}

	raw := crawl.RawResult{
		Title:            page.title,
		HTML:             page.html,
		Text:             bodyText,
		Markdown:         synthesizeMarkdown(capture, cfg.WordCountThreshold),
		ExtractedContent: page.extracted,
		Links: map[string][]any{
			"internal": internal,
			"external": external,
		},
		Media: map[string][]any{
			"images": imageEntries,
		},
		Metadata: map[string]any{
			"final_url": rawURL,
			"rendered":  true,
		},
	}
	if len(page.screenshot) > 0 {
		raw.Screenshot = base64.StdEncoding.EncodeToString(page.screenshot)
	}
	return raw
}

func (e *HeadlessEngine) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func splitBlocks(text string) []string {
	var blocks []string
	for _, block := range strings.Split(text, "\n") {
		block = collapseWhitespace(block)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

const extractLinksJS = `Array.from(document.querySelectorAll("a[href]")).map(a => ({
	url: a.href,
	text: (a.innerText || "").trim(),
}))`

const extractImagesJS = `Array.from(document.querySelectorAll("img[src]")).map(img => ({
	url: img.src,
	alt: img.alt || "",
	title: img.title || "",
}))`

const removeOverlaysJS = `(() => {
	for (const el of document.querySelectorAll("*")) {
		const style = window.getComputedStyle(el);
		if ((style.position === "fixed" || style.position === "sticky") && parseInt(style.zIndex, 10) > 100) {
			el.remove();
		}
	}
})()`

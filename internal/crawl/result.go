package crawl

import (
	"fmt"
	"strconv"
	"time"
)

// Link is the normalized shape for extracted page links.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Image is the normalized shape for extracted page images.
type Image struct {
	URL   string `json:"url"`
	Alt   string `json:"alt"`
	Title string `json:"title"`
}

// Result is the normalized crawl output stored on a completed task.
// Every field is optional from the engine's point of view; normalization
// guarantees the zero value, never an error, for anything missing.
type Result struct {
	URL              string         `json:"url"`
	Title            string         `json:"title,omitempty"`
	Markdown         string         `json:"markdown,omitempty"`
	HTML             string         `json:"html,omitempty"`
	Text             string         `json:"text,omitempty"`
	ExtractedContent string         `json:"extracted_content,omitempty"`
	Screenshot       string         `json:"screenshot,omitempty"`
	Links            []Link         `json:"links"`
	Images           []Image        `json:"images"`
	Metadata         map[string]any `json:"metadata"`
	CrawlTime        float64        `json:"crawl_time"`
	ContentSize      int            `json:"content_size"`
}

// Clone returns a deep copy of the result.
func (r Result) Clone() Result {
	cp := r
	cp.Links = append([]Link(nil), r.Links...)
	cp.Images = append([]Image(nil), r.Images...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// RawResult is the loosely typed output an Engine produces. Real engines
// and mocks return differently shaped ad hoc values, so scalar fields
// are any-typed and collections keep their source grouping; Normalize is
// the single place that flattens all of them into Result.
type RawResult struct {
	Title            any
	Markdown         any
	HTML             any
	Text             any
	ExtractedContent any
	Screenshot       any
	// Links groups link entries by locality ("internal", "external").
	// Entries may be maps with url/text keys or bare values.
	Links map[string][]any
	// Media groups media entries by type ("images"). Entries may be
	// maps with arbitrary keys or bare values.
	Media    map[string][]any
	Metadata any
}

// Normalize converts an engine's RawResult into the Result shape.
// Missing fields become zero values, non-string scalars are coerced to
// strings, and link/image entries are forced into their fixed shapes.
func Normalize(raw RawResult, url string, elapsed time.Duration) Result {
	res := Result{
		URL:              url,
		Title:            coerceString(raw.Title),
		Markdown:         coerceString(raw.Markdown),
		HTML:             coerceString(raw.HTML),
		Text:             coerceString(raw.Text),
		ExtractedContent: coerceString(raw.ExtractedContent),
		Screenshot:       coerceString(raw.Screenshot),
		Links:            normalizeLinks(raw.Links),
		Images:           normalizeImages(raw.Media),
		Metadata:         normalizeMetadata(raw.Metadata),
		CrawlTime:        elapsed.Seconds(),
	}
	res.ContentSize = len(res.Markdown)
	return res
}

func normalizeLinks(groups map[string][]any) []Link {
	entries := groups["internal"]
	links := make([]Link, 0, len(entries))
	for _, entry := range entries {
		if m, ok := entry.(map[string]any); ok {
			links = append(links, Link{
				URL:  coerceString(m["url"]),
				Text: coerceString(m["text"]),
			})
			continue
		}
		links = append(links, Link{URL: coerceString(entry)})
	}
	return links
}

func normalizeImages(groups map[string][]any) []Image {
	entries := groups["images"]
	images := make([]Image, 0, len(entries))
	for _, entry := range entries {
		if m, ok := entry.(map[string]any); ok {
			images = append(images, Image{
				URL:   coerceString(m["url"]),
				Alt:   coerceString(m["alt"]),
				Title: coerceString(m["title"]),
			})
			continue
		}
		images = append(images, Image{URL: coerceString(entry)})
	}
	return images
}

func normalizeMetadata(meta any) map[string]any {
	if m, ok := meta.(map[string]any); ok && m != nil {
		return m
	}
	return map[string]any{}
}

// coerceString renders any scalar destined for a string field. Nil maps
// to the empty string, never an error.
func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

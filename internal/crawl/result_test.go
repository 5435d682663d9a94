package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalize_CoercesScalarTypes(t *testing.T) {
	t.Parallel()

	raw := RawResult{
		Title:    42,
		Markdown: []byte("# hello"),
		HTML:     true,
		Text:     3.5,
	}

	res := Normalize(raw, "https://example.com", 2*time.Second)

	require.Equal(t, "https://example.com", res.URL)
	require.Equal(t, "42", res.Title)
	require.Equal(t, "# hello", res.Markdown)
	require.Equal(t, "true", res.HTML)
	require.Equal(t, "3.5", res.Text)
	require.Equal(t, 2.0, res.CrawlTime)
	require.Equal(t, len("# hello"), res.ContentSize)
}

func TestNormalize_MissingFieldsBecomeZeroValues(t *testing.T) {
	t.Parallel()

	res := Normalize(RawResult{}, "https://example.com", 0)

	require.Empty(t, res.Title)
	require.Empty(t, res.Markdown)
	require.NotNil(t, res.Links)
	require.Empty(t, res.Links)
	require.NotNil(t, res.Images)
	require.Empty(t, res.Images)
	require.NotNil(t, res.Metadata)
	require.Empty(t, res.Metadata)
	require.Zero(t, res.ContentSize)
}

func TestNormalize_HeterogeneousLinkEntries(t *testing.T) {
	t.Parallel()

	raw := RawResult{
		Links: map[string][]any{
			"internal": {
				map[string]any{"url": "https://example.com/a", "text": "A"},
				map[string]any{"url": 123, "text": nil},
				"https://example.com/bare",
			},
			"external": {
				map[string]any{"url": "https://elsewhere.com"},
			},
		},
	}

	res := Normalize(raw, "https://example.com", 0)

	require.Len(t, res.Links, 3)
	require.Equal(t, Link{URL: "https://example.com/a", Text: "A"}, res.Links[0])
	require.Equal(t, Link{URL: "123", Text: ""}, res.Links[1])
	require.Equal(t, Link{URL: "https://example.com/bare"}, res.Links[2])
}

func TestNormalize_HeterogeneousImageEntries(t *testing.T) {
	t.Parallel()

	raw := RawResult{
		Media: map[string][]any{
			"images": {
				map[string]any{"url": "https://example.com/a.png", "alt": "logo", "title": 7},
				"https://example.com/b.png",
			},
		},
	}

	res := Normalize(raw, "https://example.com", 0)

	require.Len(t, res.Images, 2)
	require.Equal(t, Image{URL: "https://example.com/a.png", Alt: "logo", Title: "7"}, res.Images[0])
	require.Equal(t, Image{URL: "https://example.com/b.png"}, res.Images[1])
}

func TestNormalize_NonMapMetadataDropped(t *testing.T) {
	t.Parallel()

	res := Normalize(RawResult{Metadata: "not a map"}, "https://example.com", 0)

	require.NotNil(t, res.Metadata)
	require.Empty(t, res.Metadata)
}

func TestCoerceString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "s", "s"},
		{"bytes", []byte("b"), "b"},
		{"bool", false, "false"},
		{"int", 9, "9"},
		{"int64", int64(10), "10"},
		{"float", 1.25, "1.25"},
		{"duration stringer", time.Second, "1s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, coerceString(tc.in))
		})
	}
}

func TestResultClone_Independent(t *testing.T) {
	t.Parallel()

	orig := Result{
		Links:    []Link{{URL: "https://example.com"}},
		Metadata: map[string]any{"k": "v"},
	}
	cp := orig.Clone()
	cp.Links[0].URL = "mutated"
	cp.Metadata["k"] = "mutated"

	require.Equal(t, "https://example.com", orig.Links[0].URL)
	require.Equal(t, "v", orig.Metadata["k"])
}

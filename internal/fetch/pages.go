package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"grantcsv/internal/config"
	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/flatten"
)

// Endpoint builds the submissions URL for one scheme. The path template
// must contain the {ggisReferenceNumber} placeholder.
func Endpoint(baseURL, pathTemplate, reference string) (string, error) {
	if !strings.Contains(pathTemplate, config.ReferencePlaceholder) {
		return "", grerrors.Newf(grerrors.ConfigInvalid,
			"submissions path must include %s", config.ReferencePlaceholder)
	}
	path := strings.ReplaceAll(pathTemplate, config.ReferencePlaceholder, url.PathEscape(strings.TrimSpace(reference)))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(baseURL, "/") + path, nil
}

// PageURL sets the page query parameter on base, replacing any existing
// value.
func PageURL(base, param string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TotalPages reads totalSubmissionPages from the first application, the
// applications object, or the document root, in that order. Integers and
// digit-only strings are accepted; anything else falls through. The result
// is at least 1.
func TotalPages(doc flatten.Value) int {
	apps := doc.Field("applications")
	if elems := apps.Elems(); len(elems) > 0 {
		if n, ok := pageCount(elems[0].Field("totalSubmissionPages")); ok {
			return atLeastOne(n)
		}
	}
	if apps.Kind() == flatten.KindObject {
		if n, ok := pageCount(apps.Field("totalSubmissionPages")); ok {
			return atLeastOne(n)
		}
	}
	if n, ok := pageCount(doc.Field("totalSubmissionPages")); ok {
		return atLeastOne(n)
	}
	return 1
}

func pageCount(v flatten.Value) (int, bool) {
	switch v.Kind() {
	case flatten.KindNumber:
		n, err := strconv.Atoi(v.Literal())
		return n, err == nil
	case flatten.KindString:
		s := v.Str()
		if s == "" || strings.TrimLeft(s, "0123456789") != "" {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		return n, err == nil
	default:
		return 0, false
	}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Result is a merged multi-page document plus fetch accounting.
type Result struct {
	Document flatten.Value
	Pages    int
}

// FetchAll fetches page 1 from base, then pages 2..N concurrently, and
// merges them in page order. Any page failure aborts the whole fetch.
func (c *Client) FetchAll(ctx context.Context, base string) (*Result, error) {
	first, err := c.GetJSON(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("page 1: %w", err)
	}

	total := TotalPages(first)
	c.logger.Info("Fetched first page", "url", base, "totalPages", total)
	if total <= 1 {
		return &Result{Document: first, Pages: 1}, nil
	}

	urls := make([]string, total-1)
	for p := 2; p <= total; p++ {
		u, err := PageURL(base, c.opts.PageParam, p)
		if err != nil {
			return nil, grerrors.New(grerrors.ConfigInvalid, "invalid submissions URL", err)
		}
		urls[p-2] = u
	}

	pages := make([]flatten.Value, total-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrency)

	for p := 2; p <= total; p++ {
		g.Go(func() error {
			doc, err := c.GetJSON(gctx, urls[p-2])
			if err != nil {
				return fmt.Errorf("failed to fetch page %d: %w", p, err)
			}
			pages[p-2] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{Document: Merge(first, pages...), Pages: total}, nil
}

// Merge appends the submissions of later pages onto first and returns
// the combined document; its inputs are not modified.
//
//   - applications as a list: page i's submissions extend application i,
//     for the indexes both pages have
//   - applications as an object: submissions are appended
//   - top-level submissions: appended
func Merge(first flatten.Value, pages ...flatten.Value) flatten.Value {
	root := first.Object().Clone()

	switch apps := flatten.ObjectOf(root).Field("applications"); apps.Kind() {
	case flatten.KindArray:
		cloned := make([]flatten.Value, len(apps.Elems()))
		for i, app := range apps.Elems() {
			cloned[i] = cloneObject(app)
		}
		root.Set("applications", flatten.Array(cloned...))
	case flatten.KindObject:
		root.Set("applications", cloneObject(apps))
	}

	for _, page := range pages {
		target := flatten.ObjectOf(root).Field("applications")
		incoming := page.Field("applications")

		switch {
		case target.Kind() == flatten.KindArray && incoming.Kind() == flatten.KindArray:
			t, in := target.Elems(), incoming.Elems()
			for i := 0; i < len(t) && i < len(in); i++ {
				extendSubmissions(t[i].Object(), in[i])
			}
		case target.Kind() == flatten.KindObject && incoming.Kind() == flatten.KindObject:
			extendSubmissions(target.Object(), incoming)
		}

		if root.Has("submissions") || page.Object().Has("submissions") {
			extendSubmissions(root, page)
		}
	}

	return flatten.ObjectOf(root)
}

func cloneObject(v flatten.Value) flatten.Value {
	if v.Kind() != flatten.KindObject {
		return v
	}
	return flatten.ObjectOf(v.Object().Clone())
}

// extendSubmissions appends src's submissions to dst's, creating the list
// when dst has none.
func extendSubmissions(dst *flatten.Object, src flatten.Value) {
	if dst == nil {
		return
	}
	existing, _ := dst.Get("submissions")
	var merged []flatten.Value
	merged = append(merged, existing.Elems()...)
	merged = append(merged, src.Field("submissions").Elems()...)
	dst.Set("submissions", flatten.Array(merged...))
}

package adapter

import "strings"

type PageKind string

const (
	PageListing PageKind = "listing"
	PageDetail  PageKind = "detail"
	PageOther   PageKind = "other"
)

// PageContext is recomputed on every navigation. ModelNo is set only for detail pages.
type PageContext struct {
	Kind         PageKind `json:"kind"`
	IsDetailPage bool     `json:"isDetailPage"`
	ModelNo      string   `json:"modelNo,omitempty"`
	URL          string   `json:"url"`
}

// Classifier matches the two known page patterns.
type Classifier struct {
	ListingURL   string
	DetailPrefix string
}

// Classify is a pure function of url. The listing page must match exactly;
// detail pages share DetailPrefix and carry the model number as the last
// non-empty path segment. The bare prefix is not a detail page.
func (c Classifier) Classify(url string) PageContext {
	pc := PageContext{Kind: PageOther, URL: url}
	if url == "" {
		return pc
	}
	if url == c.ListingURL {
		pc.Kind = PageListing
		return pc
	}
	if c.DetailPrefix == "" || !strings.HasPrefix(url, c.DetailPrefix) {
		return pc
	}
	rest := url[len(c.DetailPrefix):]
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	if model := lastSegment(rest); model != "" {
		pc.Kind = PageDetail
		pc.IsDetailPage = true
		pc.ModelNo = model
	}
	return pc
}

func lastSegment(path string) string {
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}

package httpc

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// htmlToText reduces an HTML document to its visible text.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style").Remove()
	text := doc.Text()
	// Collapse runs of whitespace left behind by markup removal.
	fields := strings.Fields(text)
	return strings.Join(fields, " "), nil
}

// indexRow is one document row from a filing index page.
type indexRow struct {
	description string
	href        string
	docType     string
}

// parseIndexRows extracts the document table rows from a filing index page.
// The index lists each document with description, link, and type columns.
func parseIndexRows(html string) ([]indexRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []indexRow
	doc.Find("table.tableFile tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 4 {
			return
		}
		link := cells.Eq(2).Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		out = append(out, indexRow{
			description: strings.TrimSpace(cells.Eq(1).Text()),
			href:        href,
			docType:     strings.TrimSpace(cells.Eq(3).Text()),
		})
	})
	return out, nil
}

// resolveRef makes a document href absolute against the index page URL.
// Inline-viewer links are rewritten to the raw document they wrap.
func resolveRef(indexURL, href string) string {
	// The index sometimes links documents through the inline viewer
	// (/ix?doc=/Archives/...); the raw document path follows doc=.
	if i := strings.Index(href, "doc="); strings.Contains(href, "/ix?") && i >= 0 {
		href = href[i+len("doc="):]
	}
	base, err := url.Parse(indexURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// ResolvePrimaryDocument fetches a filing index page and returns the URL of
// the primary document: the row whose type matches the filing type, else
// the first HTML document. Falls back to the index URL itself when the page
// cannot be parsed, so callers always have something to fetch.
func (c *Client) ResolvePrimaryDocument(ctx context.Context, indexURL, filingType string) (string, error) {
	body, _, err := c.Fetch(ctx, indexURL)
	if err != nil {
		return "", fmt.Errorf("fetch index %s: %w", indexURL, err)
	}
	rows, err := parseIndexRows(string(body))
	if err != nil || len(rows) == 0 {
		c.logger.Warn("Could not parse filing index, using index URL",
			"url", indexURL, "error", err)
		return indexURL, nil
	}

	want := strings.ToUpper(strings.TrimSpace(filingType))
	for _, row := range rows {
		if strings.ToUpper(row.docType) == want && want != "" {
			return resolveRef(indexURL, row.href), nil
		}
	}
	for _, row := range rows {
		href := strings.ToLower(row.href)
		if strings.HasSuffix(href, ".htm") || strings.HasSuffix(href, ".html") {
			return resolveRef(indexURL, row.href), nil
		}
	}
	return indexURL, nil
}

// ExtractExhibits fetches a filing index page and returns its exhibit rows
// (types beginning EX-), each with an absolute URL.
func (c *Client) ExtractExhibits(ctx context.Context, indexURL string) ([]models.Exhibit, error) {
	body, _, err := c.Fetch(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch index %s: %w", indexURL, err)
	}
	rows, err := parseIndexRows(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse index %s: %w", indexURL, err)
	}
	var exhibits []models.Exhibit
	for _, row := range rows {
		if !strings.HasPrefix(strings.ToUpper(row.docType), "EX-") {
			continue
		}
		exhibits = append(exhibits, models.Exhibit{
			Number:      strings.ToUpper(row.docType),
			Description: row.description,
			URL:         resolveRef(indexURL, row.href),
		})
	}
	return exhibits, nil
}

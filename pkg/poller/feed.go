package poller

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// atomFeed is the subset of the regulator's Atom feed the poller reads.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title    string         `xml:"title"`
	Updated  string         `xml:"updated"`
	Links    []atomLink     `xml:"link"`
	Category []atomCategory `xml:"category"`
	Summary  string         `xml:"summary"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// parseFeed decodes a feed document.
func parseFeed(data []byte) (*atomFeed, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("malformed feed: %w", err)
	}
	return &feed, nil
}

// filingType extracts the filing type from an entry: the category term when
// present, else the title prefix before the first separator.
func (e atomEntry) filingType() string {
	for _, c := range e.Category {
		if t := strings.TrimSpace(c.Term); t != "" {
			return t
		}
	}
	if i := strings.Index(e.Title, " - "); i > 0 {
		return strings.TrimSpace(e.Title[:i])
	}
	return ""
}

// indexURL returns the entry's filing index link.
func (e atomEntry) indexURL() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

// updatedTime parses the entry timestamp. The feed uses RFC3339 with an
// occasional date-only variant.
func (e atomEntry) updatedTime() (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, strings.TrimSpace(e.Updated)); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable entry timestamp %q", e.Updated)
}

var itemNumberRe = regexp.MustCompile(`Item\s+(\d+\.\d+)`)

// extractItemNumber pulls the first report item number mentioned in text.
func extractItemNumber(text string) string {
	m := itemNumberRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Package feed fetches mirror feeds over HTTP and decodes RSS or Atom into
// an ordered list of items, newest first.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

var (
	// ErrEmpty is returned when a feed decodes but carries no usable item.
	ErrEmpty = errors.New("feed has no items")
	// ErrInvalid is returned when the body is neither RSS nor Atom.
	ErrInvalid = errors.New("invalid feed document")
)

// Item is one entry of a feed. ID is stable across polls; Link is the
// locator posted downstream.
type Item struct {
	ID        string
	Link      string
	Title     string
	Published time.Time
}

// Parse decodes body as RSS first and falls back to Atom. Items keep
// document order. Entries without both an id and a link are dropped.
func Parse(body []byte) ([]Item, error) {
	items, rssErr := parseRSS(body)
	if rssErr == nil {
		return nonEmpty(items)
	}
	items, atomErr := parseAtom(body)
	if atomErr == nil {
		return nonEmpty(items)
	}
	return nil, errors.Join(ErrInvalid, rssErr, atomErr)
}

func nonEmpty(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	return items, nil
}

func parseRSS(body []byte) ([]Item, error) {
	type rssItem struct {
		GUID    string `xml:"guid"`
		Link    string `xml:"link"`
		Title   string `xml:"title"`
		Date    string `xml:"date"`
		PubDate string `xml:"pubDate"`
	}
	var doc struct {
		XMLName xml.Name
		Channel struct {
			Item []rssItem `xml:"item"`
		} `xml:"channel"`
		Item []rssItem `xml:"item"`
	}
	if err := decodeXML(body, &doc); err != nil {
		return nil, err
	}
	switch strings.ToLower(doc.XMLName.Local) {
	case "rss", "rdf":
	default:
		return nil, errors.New("not an rss document")
	}

	raw := doc.Channel.Item
	if len(doc.Item) > 0 {
		raw = doc.Item
	}
	out := make([]Item, 0, len(raw))
	for _, it := range raw {
		item := Item{
			ID:    strings.TrimSpace(it.GUID),
			Link:  strings.TrimSpace(it.Link),
			Title: strings.TrimSpace(it.Title),
		}
		if item.ID == "" {
			item.ID = item.Link
		}
		if item.Link == "" {
			item.Link = item.ID
		}
		if item.ID == "" {
			continue
		}
		if it.PubDate != "" {
			item.Published, _ = parseTime(it.PubDate)
		} else if it.Date != "" {
			item.Published, _ = parseTime(it.Date)
		}
		out = append(out, item)
	}
	return out, nil
}

func parseAtom(body []byte) ([]Item, error) {
	type atomLink struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	}
	type atomEntry struct {
		ID        string     `xml:"id"`
		Links     []atomLink `xml:"link"`
		Title     string     `xml:"title"`
		Published string     `xml:"published"`
		Updated   string     `xml:"updated"`
	}
	var doc struct {
		XMLName xml.Name
		Entry   []atomEntry `xml:"entry"`
	}
	if err := decodeXML(body, &doc); err != nil {
		return nil, err
	}
	if doc.XMLName.Local != "feed" {
		return nil, errors.New("not an atom document")
	}

	out := make([]Item, 0, len(doc.Entry))
	for _, e := range doc.Entry {
		item := Item{ID: strings.TrimSpace(e.ID), Title: strings.TrimSpace(e.Title)}
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				item.Link = strings.TrimSpace(l.Href)
				break
			}
		}
		if item.ID == "" {
			item.ID = item.Link
		}
		if item.Link == "" {
			item.Link = item.ID
		}
		if item.ID == "" {
			continue
		}
		if e.Published != "" {
			item.Published, _ = parseTime(e.Published)
		} else if e.Updated != "" {
			item.Published, _ = parseTime(e.Updated)
		}
		out = append(out, item)
	}
	return out, nil
}

// decodeXML is lax about charsets and HTML entities; mirrors are not
// consistent about either.
func decodeXML(body []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity
	dec.Strict = false
	return dec.Decode(v)
}

var timeLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, _2 Jan 2006 15:04:05 -0700",
	"Mon, _2 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 MST",
	time.RFC822,
	"2006-01-02",
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized time format")
}

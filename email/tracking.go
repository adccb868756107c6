package email

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/radarsiope/radar/notary"
)

// TrackingRef identifies the send an email belongs to
type TrackingRef struct {
	EditionID      string
	SendID         string
	RecipientID    string
	SubscriptionID string
}

// Query returns the ref in the query parameter names used by newsletter links
func (r TrackingRef) Query() url.Values {
	q := url.Values{}
	q.Set("nid", r.EditionID)
	q.Set("env", r.SendID)
	q.Set("uid", r.RecipientID)
	if r.SubscriptionID != "" {
		q.Set("assinaturaId", r.SubscriptionID)
	}
	return q
}

// Tracker rewrites outgoing html so opens and clicks reach the tracking endpoints
type Tracker struct {
	BaseURL string
	Notary  *notary.Notary
	TTL     time.Duration
}

// NewTracker returns a tracker whose links stay valid for ttl
func NewTracker(baseURL string, n *notary.Notary, ttl time.Duration) *Tracker {
	return &Tracker{BaseURL: strings.TrimRight(baseURL, "/"), Notary: n, TTL: ttl}
}

// Instrument replaces every http(s) link with a signed click redirect and appends an open pixel
func (t *Tracker) Instrument(html string, ref TrackingRef) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("Instrument: failed to create goquery doc: %v", err)
	}

	clickPrefix := t.BaseURL + "/t/c?"

	var signErr error
	doc.Find("a[href]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !trackable(href) || strings.HasPrefix(href, clickPrefix) {
			return true
		}

		signed, err := t.Notary.SignClick(notary.Click{
			EditionID:      ref.EditionID,
			SendID:         ref.SendID,
			RecipientID:    ref.RecipientID,
			SubscriptionID: ref.SubscriptionID,
			URL:            href,
		}, t.TTL)
		if err != nil {
			signErr = err
			return false
		}

		s.SetAttr("href", clickPrefix+url.Values{"l": {signed}}.Encode())
		return true
	})
	if signErr != nil {
		return "", fmt.Errorf("Instrument: failed to sign link: %v", signErr)
	}

	pixel := fmt.Sprintf(`<img src="%v/t/o.gif?%v" width="1" height="1" alt="" style="display:none">`, t.BaseURL, ref.Query().Encode())
	doc.Find("body").AppendHtml(pixel)

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("Instrument: failed to get html doc: %v", err)
	}

	return out, nil
}

func trackable(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

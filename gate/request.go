package gate

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/radarsiope/radar/data"
)

// Request carries the parameters of a newsletter link
type Request struct {
	EditionID      string
	SendID         string
	RecipientID    string
	AccessToken    string
	SubscriptionID string
}

// query parameter names used by newsletter links, with the long names accepted as aliases
var (
	editionParams      = []string{"nid", "editionId"}
	sendParams         = []string{"env", "sendId"}
	recipientParams    = []string{"uid", "recipientId"}
	tokenParams        = []string{"token", "accessToken"}
	subscriptionParams = []string{"assinaturaId", "subscriptionId"}
)

// RequestFromQuery reads a request from link parameters, unpacking a short link first
func RequestFromQuery(q url.Values) Request {
	q = DecodeShortLink(q)

	return Request{
		EditionID:      first(q, editionParams),
		SendID:         first(q, sendParams),
		RecipientID:    first(q, recipientParams),
		AccessToken:    first(q, tokenParams),
		SubscriptionID: first(q, subscriptionParams),
	}
}

func first(q url.Values, names []string) string {
	for _, n := range names {
		if v := q.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// Query returns the request as the parameters of a long link
func (r Request) Query() url.Values {
	q := url.Values{}
	q.Set("nid", r.EditionID)
	q.Set("env", r.SendID)
	q.Set("uid", r.RecipientID)
	q.Set("token", r.AccessToken)
	if r.SubscriptionID != "" {
		q.Set("assinaturaId", r.SubscriptionID)
	}
	return q
}

// SendRef returns the send record the request points at
func (r Request) SendRef() data.SendRef {
	return data.SendRef{
		RecipientID:    r.RecipientID,
		SubscriptionID: r.SubscriptionID,
		SendID:         r.SendID,
	}
}

// normalize trims the id parameters and reports whether they are usable. The access token is left
// as given since it is compared exactly. A value left empty or still holding template syntax means
// the email was sent without it being substituted.
func (r Request) normalize() (Request, bool) {
	r.EditionID = strings.TrimSpace(r.EditionID)
	r.SendID = strings.TrimSpace(r.SendID)
	r.RecipientID = strings.TrimSpace(r.RecipientID)
	r.SubscriptionID = strings.TrimSpace(r.SubscriptionID)

	for _, id := range []string{r.EditionID, r.SendID, r.RecipientID} {
		if !usable(id) || !data.ValidID(id) {
			return r, false
		}
	}

	if !usable(strings.TrimSpace(r.AccessToken)) {
		return r, false
	}

	if r.SubscriptionID != "" && (!usable(r.SubscriptionID) || !data.ValidID(r.SubscriptionID)) {
		return r, false
	}

	return r, true
}

func usable(v string) bool {
	if v == "" {
		return false
	}
	if strings.Contains(v, "{{") || strings.Contains(v, "}}") {
		return false
	}
	return !strings.Contains(strings.ToLower(v), "sem envioid")
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// DecodeShortLink unpacks the d parameter of a short link: url decoded once, base64 decoded and
// parsed as a query string. On any failure the original query is returned unchanged.
func DecodeShortLink(q url.Values) url.Values {
	d := q.Get("d")
	if d == "" {
		return q
	}

	unescaped, err := url.PathUnescape(d)
	if err != nil {
		return q
	}
	// the query parser has already turned an unescaped '+' of the standard alphabet into a space
	unescaped = strings.TrimSpace(strings.ReplaceAll(unescaped, " ", "+"))

	var raw []byte
	for _, enc := range base64Encodings {
		raw, err = enc.DecodeString(unescaped)
		if err == nil {
			break
		}
	}
	if err != nil {
		return q
	}

	decoded, err := url.ParseQuery(string(raw))
	if err != nil || len(decoded) == 0 {
		return q
	}

	return decoded
}

// EncodeShortLink packs link parameters into the value of a d parameter
func EncodeShortLink(q url.Values) string {
	return base64.RawURLEncoding.EncodeToString([]byte(q.Encode()))
}

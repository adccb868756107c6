package data

import (
	"time"
)

// Segment is the category of a recipient and of the edition blocks visible to it
type Segment string

// Segments
const (
	SegmentAll         Segment = "all"
	SegmentLeads       Segment = "leads"
	SegmentSubscribers Segment = "subscribers"
)

// Send record field names
const (
	FieldRecipientID        = "recipientId"
	FieldEditionID          = "editionId"
	FieldAccessToken        = "accessToken"
	FieldExpiresAt          = "expiresAt"
	FieldTotalAccesses      = "totalAccesses"
	FieldLastAccessedAt     = "lastAccessedAt"
	FieldSharingFlagged     = "sharingFlagged"
	FieldTransportMessageID = "transportMessageId"
	FieldSentAt             = "sentAt"
	FieldOpens              = "opens"
	FieldClicks             = "clicks"
	FieldLastEvent          = "lastEvent"
	FieldLastEventAt        = "lastEventAt"
)

// SendRecord tracks the access token and counters of one edition sent to one recipient
type SendRecord struct {
	Path           string
	RecipientID    string
	EditionID      string
	AccessToken    string
	ExpiresAt      time.Time
	TotalAccesses  int64
	LastAccessedAt time.Time
	SharingFlagged bool

	// ExpiryUnreadable is set when expiresAt holds a value that is not a time
	ExpiryUnreadable bool
}

// SendRecordFromDocument reads a send record out of a document
func SendRecordFromDocument(d Document) SendRecord {
	r := SendRecord{
		Path:           d.Path,
		RecipientID:    d.Fields.String(FieldRecipientID),
		EditionID:      d.Fields.String(FieldEditionID),
		AccessToken:    d.Fields.String(FieldAccessToken),
		TotalAccesses:  d.Fields.Int(FieldTotalAccesses),
		SharingFlagged: d.Fields.Bool(FieldSharingFlagged),
	}
	var ok bool
	r.ExpiresAt, ok = d.Fields.Time(FieldExpiresAt)
	r.ExpiryUnreadable = !ok && d.Fields.HasValue(FieldExpiresAt)
	r.LastAccessedAt, _ = d.Fields.Time(FieldLastAccessedAt)
	return r
}

// Fields returns the stored representation of the record
func (r SendRecord) Fields() Fields {
	f := Fields{
		FieldRecipientID:    r.RecipientID,
		FieldAccessToken:    r.AccessToken,
		FieldTotalAccesses:  r.TotalAccesses,
		FieldSharingFlagged: r.SharingFlagged,
	}
	if r.EditionID != "" {
		f[FieldEditionID] = r.EditionID
	}
	if !r.ExpiresAt.IsZero() {
		f[FieldExpiresAt] = r.ExpiresAt
	}
	if !r.LastAccessedAt.IsZero() {
		f[FieldLastAccessedAt] = r.LastAccessedAt
	}
	return f
}

// Expired reports whether the record has an expiry strictly before now. An expiry that could not
// be read counts as expired.
func (r SendRecord) Expired(now time.Time) bool {
	if r.ExpiryUnreadable {
		return true
	}
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// Block is a piece of edition content visible to one segment or to all
type Block struct {
	AccessSegment Segment
	HTML          string
}

// Edition is one published newsletter
type Edition struct {
	ID            string
	Title         string
	EditionNumber string
	BaseHTML      string
	Blocks        []Block
}

// EditionFromDocument reads an edition out of a document
func EditionFromDocument(d Document) Edition {
	e := Edition{
		ID:            d.ID(),
		Title:         d.Fields.String("title"),
		EditionNumber: d.Fields.String("editionNumber"),
		BaseHTML:      d.Fields.String("baseHtml"),
	}

	for _, b := range d.Fields.Maps("blocks") {
		f := Fields(b)
		e.Blocks = append(e.Blocks, Block{
			AccessSegment: Segment(f.String("accessSegment")),
			HTML:          f.String("html"),
		})
	}

	return e
}

// Fields returns the stored representation of the edition
func (e Edition) Fields() Fields {
	blocks := make([]interface{}, 0, len(e.Blocks))
	for _, b := range e.Blocks {
		blocks = append(blocks, map[string]interface{}{
			"accessSegment": string(b.AccessSegment),
			"html":          b.HTML,
		})
	}

	return Fields{
		"title":         e.Title,
		"editionNumber": e.EditionNumber,
		"baseHtml":      e.BaseHTML,
		"blocks":        blocks,
	}
}

// Recipient is a subscriber or a lead
type Recipient struct {
	ID      string
	Name    string
	Email   string
	Segment Segment
}

// RecipientFromDocument reads a recipient profile out of a document
func RecipientFromDocument(d Document, s Segment) Recipient {
	return Recipient{
		ID:      d.ID(),
		Name:    d.Fields.String("name"),
		Email:   d.Fields.String("email"),
		Segment: s,
	}
}

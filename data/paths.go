package data

import (
	"strings"
)

// Collection names
const (
	Newsletters   = "newsletters"
	Users         = "users"
	Leads         = "leads"
	Subscriptions = "subscriptions"
	Sends         = "sends"
	Batches       = "batches"
	Jobs          = "jobs"
)

// ValidID reports whether id can be used as a single path segment
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

// JoinPath builds a document path from alternating collection and id segments
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// CollectionGroup returns the name of the collection directly containing the document at path
func CollectionGroup(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// EditionPath is the document path of a newsletter edition
func EditionPath(editionID string) string {
	return JoinPath(Newsletters, editionID)
}

// RecipientPath is the profile document of a subscriber or a lead
func RecipientPath(s Segment, recipientID string) string {
	if s == SegmentSubscribers {
		return JoinPath(Users, recipientID)
	}
	return JoinPath(Leads, recipientID)
}

// LeadSendPath is the send record of an edition sent to a lead
func LeadSendPath(recipientID, sendID string) string {
	return JoinPath(Leads, recipientID, Sends, sendID)
}

// SubscriberSendPath is the send record of an edition sent under a subscription
func SubscriberSendPath(recipientID, subscriptionID, sendID string) string {
	return JoinPath(Users, recipientID, Subscriptions, subscriptionID, Sends, sendID)
}

// SendLogPath is the per job entry of a dispatched batch
func SendLogPath(newsletterID, sendID, batchID, jobID string) string {
	return JoinPath(Newsletters, newsletterID, Sends, sendID, Batches, batchID, Jobs, jobID)
}

// SendRef identifies a send record
type SendRef struct {
	RecipientID    string
	SubscriptionID string
	SendID         string
}

// Segment returns subscribers when the send belongs to a subscription and leads otherwise
func (r SendRef) Segment() Segment {
	if r.SubscriptionID != "" {
		return SegmentSubscribers
	}
	return SegmentLeads
}

// Path returns the send record path for the ref's segment
func (r SendRef) Path() string {
	if r.SubscriptionID != "" {
		return SubscriberSendPath(r.RecipientID, r.SubscriptionID, r.SendID)
	}
	return LeadSendPath(r.RecipientID, r.SendID)
}

package dispatch

import (
	"context"

	"github.com/radarsiope/radar/data"
)

// maximum number of send records the edition search writes to
const searchLimit = 5

// Locator finds the documents a delivery record is written to. No paths and no error means the
// strategy does not apply to the job.
type Locator struct {
	Name   string
	Locate func(ctx context.Context, db data.Store, j Job) ([]string, error)
}

// PathLocator wraps a strategy that derives a single path from the job alone
func PathLocator(name string, path func(j Job) (string, bool)) Locator {
	return Locator{
		Name: name,
		Locate: func(_ context.Context, _ data.Store, j Job) ([]string, error) {
			p, ok := path(j)
			if !ok {
				return nil, nil
			}
			return []string{p}, nil
		},
	}
}

func valid(ids ...string) bool {
	for _, id := range ids {
		if !data.ValidID(id) {
			return false
		}
	}
	return true
}

// SendLog is the per job entry of the batch the job was dispatched in
var SendLog = PathLocator("send-log", func(j Job) (string, bool) {
	if !valid(j.NewsletterID, j.SendID, j.BatchID, j.ID) {
		return "", false
	}
	return data.SendLogPath(j.NewsletterID, j.SendID, j.BatchID, j.ID), true
})

// RecipientHistory is the send record under the recipient
var RecipientHistory = PathLocator("recipient-history", func(j Job) (string, bool) {
	if !valid(j.RecipientID, j.SendID) {
		return "", false
	}
	return data.LeadSendPath(j.RecipientID, j.SendID), true
})

// SubscriptionHistory is the send record under the recipient's subscription
var SubscriptionHistory = PathLocator("subscription-history", func(j Job) (string, bool) {
	if !valid(j.RecipientID, j.SubscriptionID, j.SendID) {
		return "", false
	}
	return data.SubscriberSendPath(j.RecipientID, j.SubscriptionID, j.SendID), true
})

// EditionSearch finds up to five send records of the edition and recipient anywhere in the store
var EditionSearch = Locator{
	Name: "edition-search",
	Locate: func(ctx context.Context, db data.Store, j Job) ([]string, error) {
		if j.NewsletterID == "" || j.RecipientID == "" {
			return nil, nil
		}

		docs, err := db.Query(ctx, data.Query{
			CollectionGroup: data.Sends,
			Where: []data.Filter{
				{Field: data.FieldEditionID, Value: j.NewsletterID},
				{Field: data.FieldRecipientID, Value: j.RecipientID},
			},
			Limit: searchLimit,
		})
		if err != nil {
			return nil, err
		}

		paths := make([]string, 0, len(docs))
		for _, d := range docs {
			paths = append(paths, d.Path)
		}
		return paths, nil
	},
}

// DefaultLocators are tried in order until one records the delivery
var DefaultLocators = []Locator{SendLog, RecipientHistory, SubscriptionHistory, EditionSearch}

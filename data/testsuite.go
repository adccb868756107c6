package data

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFunction is the signature for a testing function
type TestFunction = func(t *testing.T, db Store)

// TestingFuncs contain the suite of funcs that a store implementation should be tested against
var TestingFuncs = []TestFunction{
	TestSetAndGet,
	TestGetMissing,
	TestSetMerge,
	TestSetReplace,
	TestUpdate,
	TestUpdateMissing,
	TestIncrement,
	TestIncrementMissing,
	TestTimeRoundTrip,
	TestBlocksRoundTrip,
	TestQueryCollectionGroup,
	TestQueryLimit,
}

func newID() string {
	return uuid.Must(uuid.NewRandom()).String()
}

// TestSetAndGet verifies that a document can be written and read back
func TestSetAndGet(t *testing.T, db Store) {
	ctx := context.Background()
	path := LeadSendPath(newID(), newID())

	err := db.Set(ctx, path, Fields{
		FieldRecipientID:   "lead-1",
		FieldAccessToken:   "tok",
		FieldTotalAccesses: int64(2),
	}, false)
	require.NoError(t, err, "%v - TestSetAndGet: failed to set", reflect.TypeOf(db))

	d, err := db.Get(ctx, path)
	require.NoError(t, err, "%v - TestSetAndGet: failed to get document back", reflect.TypeOf(db))

	assert.Equal(t, path, d.Path)
	assert.Equal(t, "lead-1", d.Fields.String(FieldRecipientID))
	assert.Equal(t, "tok", d.Fields.String(FieldAccessToken))
	assert.Equal(t, int64(2), d.Fields.Int(FieldTotalAccesses))
}

// TestGetMissing verifies that ErrNotFound is returned for an unknown path
func TestGetMissing(t *testing.T, db Store) {
	_, err := db.Get(context.Background(), LeadSendPath(newID(), newID()))
	assert.Equal(t, ErrNotFound, err, "%v - TestGetMissing", reflect.TypeOf(db))
}

// TestSetMerge verifies that merge keeps fields not present in the write
func TestSetMerge(t *testing.T, db Store) {
	ctx := context.Background()
	path := LeadSendPath(newID(), newID())

	require.NoError(t, db.Set(ctx, path, Fields{"a": "1", "b": "2"}, false))
	require.NoError(t, db.Set(ctx, path, Fields{"b": "3", "c": "4"}, true))

	d, err := db.Get(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, "1", d.Fields.String("a"), "%v - TestSetMerge", reflect.TypeOf(db))
	assert.Equal(t, "3", d.Fields.String("b"), "%v - TestSetMerge", reflect.TypeOf(db))
	assert.Equal(t, "4", d.Fields.String("c"), "%v - TestSetMerge", reflect.TypeOf(db))
}

// TestSetReplace verifies that a write without merge drops old fields
func TestSetReplace(t *testing.T, db Store) {
	ctx := context.Background()
	path := LeadSendPath(newID(), newID())

	require.NoError(t, db.Set(ctx, path, Fields{"a": "1", "b": "2"}, false))
	require.NoError(t, db.Set(ctx, path, Fields{"b": "3"}, false))

	d, err := db.Get(ctx, path)
	require.NoError(t, err)

	_, hasA := d.Fields["a"]
	assert.False(t, hasA, "%v - TestSetReplace: old field survived", reflect.TypeOf(db))
	assert.Equal(t, "3", d.Fields.String("b"))
}

// TestUpdate verifies that Update merges into an existing document
func TestUpdate(t *testing.T, db Store) {
	ctx := context.Background()
	path := LeadSendPath(newID(), newID())

	require.NoError(t, db.Set(ctx, path, Fields{FieldAccessToken: "tok"}, false))
	require.NoError(t, db.Update(ctx, path, Fields{FieldTransportMessageID: "mid-1"}))

	d, err := db.Get(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, "tok", d.Fields.String(FieldAccessToken), "%v - TestUpdate", reflect.TypeOf(db))
	assert.Equal(t, "mid-1", d.Fields.String(FieldTransportMessageID), "%v - TestUpdate", reflect.TypeOf(db))
}

// TestUpdateMissing verifies that Update doesn't create documents
func TestUpdateMissing(t *testing.T, db Store) {
	ctx := context.Background()
	path := LeadSendPath(newID(), newID())

	err := db.Update(ctx, path, Fields{FieldTransportMessageID: "mid-1"})
	assert.Equal(t, ErrNotFound, err, "%v - TestUpdateMissing", reflect.TypeOf(db))

	_, err = db.Get(ctx, path)
	assert.Equal(t, ErrNotFound, err, "%v - TestUpdateMissing: document was created", reflect.TypeOf(db))
}

// TestIncrement verifies that Increment counts from a missing field and returns the new value
func TestIncrement(t *testing.T, db Store) {
	ctx := context.Background()
	path := LeadSendPath(newID(), newID())

	require.NoError(t, db.Set(ctx, path, Fields{FieldAccessToken: "tok"}, false))

	for i := int64(1); i <= 3; i++ {
		n, err := db.Increment(ctx, path, FieldTotalAccesses, 1)
		require.NoError(t, err, "%v - TestIncrement", reflect.TypeOf(db))
		assert.Equal(t, i, n, "%v - TestIncrement", reflect.TypeOf(db))
	}

	d, err := db.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Fields.Int(FieldTotalAccesses))
	assert.Equal(t, "tok", d.Fields.String(FieldAccessToken))
}

// TestIncrementMissing verifies that Increment doesn't create documents
func TestIncrementMissing(t *testing.T, db Store) {
	_, err := db.Increment(context.Background(), LeadSendPath(newID(), newID()), FieldTotalAccesses, 1)
	assert.Equal(t, ErrNotFound, err, "%v - TestIncrementMissing", reflect.TypeOf(db))
}

// TestTimeRoundTrip verifies that timestamps survive storage
func TestTimeRoundTrip(t *testing.T, db Store) {
	ctx := context.Background()
	path := LeadSendPath(newID(), newID())
	at := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

	require.NoError(t, db.Set(ctx, path, Fields{FieldExpiresAt: at}, false))

	d, err := db.Get(ctx, path)
	require.NoError(t, err)

	got, ok := d.Fields.Time(FieldExpiresAt)
	require.True(t, ok, "%v - TestTimeRoundTrip: time not readable", reflect.TypeOf(db))
	assert.True(t, at.Equal(got), "%v - TestTimeRoundTrip: expected %v got %v", reflect.TypeOf(db), at, got)
}

// TestBlocksRoundTrip verifies that an edition with nested blocks survives storage
func TestBlocksRoundTrip(t *testing.T, db Store) {
	ctx := context.Background()
	e := Edition{
		ID:            newID(),
		Title:         "Radar",
		EditionNumber: "42",
		BaseHTML:      "<p>{{blocks}}</p>",
		Blocks: []Block{
			{AccessSegment: SegmentLeads, HTML: "L"},
			{AccessSegment: SegmentAll, HTML: "A"},
		},
	}

	require.NoError(t, db.Set(ctx, EditionPath(e.ID), e.Fields(), false))

	d, err := db.Get(ctx, EditionPath(e.ID))
	require.NoError(t, err)

	assert.Equal(t, e, EditionFromDocument(d), "%v - TestBlocksRoundTrip", reflect.TypeOf(db))
}

// TestQueryCollectionGroup verifies that queries search every collection with the same name
func TestQueryCollectionGroup(t *testing.T, db Store) {
	ctx := context.Background()
	edition := newID()
	recipient := newID()

	lead := LeadSendPath(recipient, newID())
	sub := SubscriberSendPath(recipient, newID(), newID())
	other := LeadSendPath(newID(), newID())

	require.NoError(t, db.Set(ctx, lead, Fields{FieldEditionID: edition, FieldRecipientID: recipient}, false))
	require.NoError(t, db.Set(ctx, sub, Fields{FieldEditionID: edition, FieldRecipientID: recipient}, false))
	require.NoError(t, db.Set(ctx, other, Fields{FieldEditionID: edition, FieldRecipientID: "someone-else"}, false))
	// same fields but outside the sends group
	require.NoError(t, db.Set(ctx, JoinPath(Leads, recipient), Fields{FieldEditionID: edition, FieldRecipientID: recipient}, false))

	docs, err := db.Query(ctx, Query{
		CollectionGroup: Sends,
		Where: []Filter{
			{Field: FieldEditionID, Value: edition},
			{Field: FieldRecipientID, Value: recipient},
		},
	})
	require.NoError(t, err, "%v - TestQueryCollectionGroup", reflect.TypeOf(db))

	var paths []string
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	assert.ElementsMatch(t, []string{lead, sub}, paths, "%v - TestQueryCollectionGroup", reflect.TypeOf(db))
}

// TestQueryLimit verifies that at most Limit documents are returned
func TestQueryLimit(t *testing.T, db Store) {
	ctx := context.Background()
	edition := newID()

	for i := 0; i < 4; i++ {
		require.NoError(t, db.Set(ctx, LeadSendPath(newID(), newID()), Fields{FieldEditionID: edition}, false))
	}

	docs, err := db.Query(ctx, Query{
		CollectionGroup: Sends,
		Where:           []Filter{{Field: FieldEditionID, Value: edition}},
		Limit:           3,
	})
	require.NoError(t, err)
	assert.Len(t, docs, 3, "%v - TestQueryLimit", reflect.TypeOf(db))
}

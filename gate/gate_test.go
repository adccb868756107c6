package gate

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/data/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore counts writes and can fail chosen operations
type recordingStore struct {
	*inmemory.InMemory
	writes        int
	failIncrement bool
	failGet       error
}

func (s *recordingStore) Get(ctx context.Context, path string) (data.Document, error) {
	if s.failGet != nil {
		return data.Document{}, s.failGet
	}
	return s.InMemory.Get(ctx, path)
}

func (s *recordingStore) Set(ctx context.Context, path string, f data.Fields, merge bool) error {
	s.writes++
	return s.InMemory.Set(ctx, path, f, merge)
}

func (s *recordingStore) Update(ctx context.Context, path string, f data.Fields) error {
	s.writes++
	return s.InMemory.Update(ctx, path, f)
}

func (s *recordingStore) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	s.writes++
	if s.failIncrement {
		return 0, errors.New("increment unavailable")
	}
	return s.InMemory.Increment(ctx, path, field, delta)
}

type fakeBeacon struct {
	m    sync.Mutex
	seen []Request
	err  error
}

func (b *fakeBeacon) Observe(ctx context.Context, req Request) error {
	b.m.Lock()
	defer b.m.Unlock()
	b.seen = append(b.seen, req)
	return b.err
}

var testNow = time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

const leadTemplate = `<html><head><title>{{title}}</title></head><body><main>{{blocks}}</main><footer>{{unknownField}}</footer></body></html>`

func testEdition() data.Edition {
	return data.Edition{
		ID:            "ed-1",
		Title:         "Radar 12",
		EditionNumber: "12",
		BaseHTML:      leadTemplate,
		Blocks: []data.Block{
			{AccessSegment: data.SegmentLeads, HTML: `<p id="lead">L</p>`},
			{AccessSegment: data.SegmentAll, HTML: `<p id="all">A for {{name}}</p>`},
			{AccessSegment: data.SegmentSubscribers, HTML: `<p id="subs">S</p>`},
		},
	}
}

// seed stores an edition, a lead and a subscriber with their send records and returns a store
// with the write counter reset
func seed(t *testing.T, lead, subscriber data.Fields) *recordingStore {
	ctx := context.Background()
	db := &recordingStore{InMemory: inmemory.GetInMemoryDB()}

	require.NoError(t, db.Set(ctx, data.EditionPath("ed-1"), testEdition().Fields(), false))
	require.NoError(t, db.Set(ctx, data.RecipientPath(data.SegmentLeads, "lead-1"), data.Fields{"name": "Ana", "email": "ana@example.com"}, false))
	require.NoError(t, db.Set(ctx, data.RecipientPath(data.SegmentSubscribers, "user-1"), data.Fields{"name": "Bruno", "email": "bruno@example.com"}, false))

	if lead != nil {
		require.NoError(t, db.Set(ctx, data.LeadSendPath("lead-1", "send-1"), lead, false))
	}
	if subscriber != nil {
		require.NoError(t, db.Set(ctx, data.SubscriberSendPath("user-1", "sub-1", "send-1"), subscriber, false))
	}

	db.writes = 0
	return db
}

func leadRequest() Request {
	return Request{EditionID: "ed-1", SendID: "send-1", RecipientID: "lead-1", AccessToken: "tok-lead"}
}

func newTestGate(db data.Store, opts ...Option) *Gate {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(db, opts...)
}

func requireDenial(t *testing.T, err error, k Kind, msg string) {
	t.Helper()

	var d *Denial
	require.True(t, errors.As(err, &d), "expected a denial, got %v", err)
	assert.Equal(t, k, d.Kind)
	assert.Equal(t, msg, d.Message)
}

func TestGate_InvalidLink(t *testing.T) {
	tests := []struct {
		name string
		mod  func(r *Request)
	}{
		{name: "missing edition", mod: func(r *Request) { r.EditionID = "" }},
		{name: "missing send", mod: func(r *Request) { r.SendID = "" }},
		{name: "missing recipient", mod: func(r *Request) { r.RecipientID = "  " }},
		{name: "missing token", mod: func(r *Request) { r.AccessToken = "" }},
		{name: "blank token", mod: func(r *Request) { r.AccessToken = " \t" }},
		{name: "unresolved placeholder", mod: func(r *Request) { r.RecipientID = "{{uid}}" }},
		{name: "half placeholder", mod: func(r *Request) { r.AccessToken = "abc}}" }},
		{name: "sem envioid", mod: func(r *Request) { r.SendID = "Sem EnvioId" }},
		{name: "path in id", mod: func(r *Request) { r.EditionID = "ed-1/../x" }},
		{name: "placeholder subscription", mod: func(r *Request) { r.SubscriptionID = "{{assinaturaId}}" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)
			g := newTestGate(db)

			req := leadRequest()
			test.mod(&req)

			p, err := g.Open(context.Background(), req)
			assert.Nil(t, p)
			requireDenial(t, err, MalformedRequest, MsgInvalidLink)
			assert.Equal(t, 0, db.writes)
		})
	}
}

func TestGate_SendNotFound(t *testing.T) {
	db := seed(t, nil, nil)

	_, err := newTestGate(db).Open(context.Background(), leadRequest())
	requireDenial(t, err, NotFound, MsgSendNotFound)
	assert.Equal(t, 0, db.writes)
}

func TestGate_InvalidToken(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead", data.FieldTotalAccesses: int64(1)}, nil)
	g := newTestGate(db)

	for _, tok := range []string{"tok-leaD", "tok-lead ", " tok-lead\t", "tok", "TOK-LEAD"} {
		req := leadRequest()
		req.AccessToken = tok

		_, err := g.Open(context.Background(), req)
		requireDenial(t, err, Unauthorized, MsgInvalidToken)
	}

	d, err := db.Get(context.Background(), data.LeadSendPath("lead-1", "send-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Fields.Int(data.FieldTotalAccesses))
	assert.Equal(t, 0, db.writes)
}

func TestGate_Expired(t *testing.T) {
	db := seed(t, data.Fields{
		data.FieldAccessToken: "tok-lead",
		data.FieldExpiresAt:   testNow.Add(-time.Second),
	}, nil)
	g := newTestGate(db)

	_, err := g.Open(context.Background(), leadRequest())
	requireDenial(t, err, Expired, MsgLinkExpired)

	// the token is checked first
	req := leadRequest()
	req.AccessToken = "wrong"
	_, err = g.Open(context.Background(), req)
	requireDenial(t, err, Unauthorized, MsgInvalidToken)

	assert.Equal(t, 0, db.writes)
}

func TestGate_ExpiredStoredForms(t *testing.T) {
	dayBefore := testNow.Add(-24 * time.Hour)

	tests := []struct {
		name      string
		expiresAt interface{}
	}{
		{name: "unix seconds", expiresAt: dayBefore.Unix()},
		{name: "unix milliseconds", expiresAt: dayBefore.UnixMilli()},
		{name: "json number", expiresAt: json.Number(strconv.FormatInt(dayBefore.Unix(), 10))},
		{name: "float seconds", expiresAt: float64(dayBefore.Unix())},
		{name: "no zone", expiresAt: dayBefore.Format("2006-01-02T15:04:05")},
		{name: "rfc3339", expiresAt: dayBefore.Format(time.RFC3339)},
		{name: "unreadable", expiresAt: "soon"},
		{name: "wrong type", expiresAt: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := seed(t, data.Fields{
				data.FieldAccessToken: "tok-lead",
				data.FieldExpiresAt:   test.expiresAt,
			}, nil)

			p, err := newTestGate(db).Open(context.Background(), leadRequest())
			assert.Nil(t, p)
			requireDenial(t, err, Expired, MsgLinkExpired)
			assert.Equal(t, 0, db.writes)
		})
	}
}

func TestGate_NotYetExpiredStoredForms(t *testing.T) {
	dayAfter := testNow.Add(24 * time.Hour)

	for _, v := range []interface{}{dayAfter.Unix(), dayAfter.Format("2006-01-02 15:04:05")} {
		db := seed(t, data.Fields{
			data.FieldAccessToken: "tok-lead",
			data.FieldExpiresAt:   v,
		}, nil)

		p, err := newTestGate(db).Open(context.Background(), leadRequest())
		require.NoError(t, err, "%v", v)
		assert.NotNil(t, p)
	}
}

func TestGate_ExpiresNow(t *testing.T) {
	db := seed(t, data.Fields{
		data.FieldAccessToken: "tok-lead",
		data.FieldExpiresAt:   testNow,
	}, nil)

	p, err := newTestGate(db).Open(context.Background(), leadRequest())
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestGate_DenialIsIdempotent(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)
	g := newTestGate(db)

	req := leadRequest()
	req.AccessToken = "wrong"

	for i := 0; i < 5; i++ {
		p, err := g.Open(context.Background(), req)
		assert.Nil(t, p)
		requireDenial(t, err, Unauthorized, MsgInvalidToken)
	}
}

func TestGate_RendersLead(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead", data.FieldTotalAccesses: int64(2)}, nil)
	g := newTestGate(db, WithLocation(time.FixedZone("BRT", -3*60*60)))

	p, err := g.Open(context.Background(), leadRequest())
	require.NoError(t, err)

	assert.Equal(t, "Ana", p.Recipient.Name)
	assert.Equal(t, data.SegmentLeads, p.Recipient.Segment)

	l := strings.Index(p.HTML, `<p id="lead">L</p>`)
	a := strings.Index(p.HTML, `<p id="all">A for Ana</p>`)
	require.True(t, l >= 0, p.HTML)
	require.True(t, a >= 0, p.HTML)
	assert.True(t, l < a)
	assert.NotContains(t, p.HTML, `id="subs"`)

	assert.Contains(t, p.HTML, "<title>Radar 12</title>")
	assert.Contains(t, p.HTML, "{{unknownField}}")

	assert.Equal(t, 2, strings.Count(p.HTML, "Exclusive for Ana · ana@example.com · 10/05/2024 12:30"))
	assert.Contains(t, p.HTML, "user-select: none")

	rec, err := db.Get(context.Background(), data.LeadSendPath("lead-1", "send-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Fields.Int(data.FieldTotalAccesses))
	last, ok := rec.Fields.Time(data.FieldLastAccessedAt)
	require.True(t, ok)
	assert.True(t, testNow.Equal(last))
	assert.False(t, rec.Fields.Bool(data.FieldSharingFlagged))
}

func TestGate_RendersSubscriber(t *testing.T) {
	db := seed(t, nil, data.Fields{data.FieldAccessToken: "tok-sub"})

	req := Request{EditionID: "ed-1", SendID: "send-1", RecipientID: "user-1", AccessToken: "tok-sub", SubscriptionID: "sub-1"}

	p, err := newTestGate(db).Open(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, data.SegmentSubscribers, p.Recipient.Segment)
	assert.Contains(t, p.HTML, `<p id="all">A for Bruno</p>`)
	assert.Contains(t, p.HTML, `<p id="subs">S</p>`)
	assert.NotContains(t, p.HTML, `id="lead"`)
}

func TestGate_SubscriptionSelectsPath(t *testing.T) {
	// only a lead record exists, a subscription id must not fall back to it
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)

	req := leadRequest()
	req.SubscriptionID = "sub-1"

	_, err := newTestGate(db).Open(context.Background(), req)
	requireDenial(t, err, NotFound, MsgSendNotFound)
}

func TestGate_RecipientNotFound(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)
	require.NoError(t, db.Set(context.Background(), data.LeadSendPath("lead-2", "send-1"), data.Fields{data.FieldAccessToken: "t2"}, false))

	req := Request{EditionID: "ed-1", SendID: "send-1", RecipientID: "lead-2", AccessToken: "t2"}

	_, err := newTestGate(db).Open(context.Background(), req)
	requireDenial(t, err, NotFound, MsgRecipientNotFound)
}

func TestGate_EditionNotFound(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)

	req := leadRequest()
	req.EditionID = "ed-missing"

	_, err := newTestGate(db).Open(context.Background(), req)
	requireDenial(t, err, NotFound, MsgEditionNotFound)
}

func TestGate_OverSharing(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead", data.FieldTotalAccesses: int64(4)}, nil)
	g := newTestGate(db)
	ctx := context.Background()
	path := data.LeadSendPath("lead-1", "send-1")

	// fifth access is still within the threshold
	p, err := g.Open(ctx, leadRequest())
	require.NoError(t, err)
	require.NotNil(t, p)

	// sixth and every later access gets the notice
	for i := 0; i < 3; i++ {
		p, err := g.Open(ctx, leadRequest())
		assert.Nil(t, p)
		requireDenial(t, err, AbuseSuspected, MsgExclusive)
	}

	d, err := db.Get(ctx, path)
	require.NoError(t, err)
	assert.True(t, d.Fields.Bool(data.FieldSharingFlagged))
	assert.Equal(t, int64(8), d.Fields.Int(data.FieldTotalAccesses))

	// a flagged record stays blocked even if its counter is reset
	require.NoError(t, db.Update(ctx, path, data.Fields{data.FieldTotalAccesses: int64(0)}))
	_, err = g.Open(ctx, leadRequest())
	requireDenial(t, err, AbuseSuspected, MsgExclusive)
}

func TestGate_CustomThreshold(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead", data.FieldTotalAccesses: int64(1)}, nil)

	_, err := newTestGate(db, WithThreshold(1)).Open(context.Background(), leadRequest())
	requireDenial(t, err, AbuseSuspected, MsgExclusive)
}

func TestGate_IncrementFailureStillRenders(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead", data.FieldTotalAccesses: int64(2)}, nil)
	db.failIncrement = true

	p, err := newTestGate(db).Open(context.Background(), leadRequest())
	require.NoError(t, err)
	assert.Contains(t, p.HTML, `<p id="lead">L</p>`)

	d, err := db.InMemory.Get(context.Background(), data.LeadSendPath("lead-1", "send-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Fields.Int(data.FieldTotalAccesses))
}

func TestGate_IncrementFailureUsesPriorCount(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead", data.FieldTotalAccesses: int64(6)}, nil)
	db.failIncrement = true

	_, err := newTestGate(db).Open(context.Background(), leadRequest())
	requireDenial(t, err, AbuseSuspected, MsgExclusive)
}

func TestGate_StoreUnavailable(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)
	db.failGet = errors.New("connection refused")

	_, err := newTestGate(db).Open(context.Background(), leadRequest())
	requireDenial(t, err, Unavailable, MsgUnavailable)
}

func TestGate_Beacon(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)

	b := &fakeBeacon{err: errors.New("beacon down")}
	bg := NewBackground(time.Second)

	p, err := newTestGate(db, WithBeacon(b, bg)).Open(context.Background(), leadRequest())
	require.NoError(t, err)
	require.NotNil(t, p)

	bg.Wait()

	b.m.Lock()
	defer b.m.Unlock()
	require.Len(t, b.seen, 1)
	assert.Equal(t, "lead-1", b.seen[0].RecipientID)
}

func TestGate_NoBeaconOnDenial(t *testing.T) {
	db := seed(t, data.Fields{data.FieldAccessToken: "tok-lead"}, nil)

	b := &fakeBeacon{}
	bg := NewBackground(time.Second)

	req := leadRequest()
	req.AccessToken = "wrong"

	_, err := newTestGate(db, WithBeacon(b, bg)).Open(context.Background(), req)
	require.Error(t, err)

	bg.Wait()
	assert.Len(t, b.seen, 0)
}

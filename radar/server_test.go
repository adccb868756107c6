package radar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/data/inmemory"
	"github.com/radarsiope/radar/email"
	"github.com/radarsiope/radar/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key"

type fakeTransport struct {
	m    sync.Mutex
	sent []email.Message
	fail map[string]error
}

func (f *fakeTransport) Send(ctx context.Context, msg email.Message) (string, error) {
	f.m.Lock()
	defer f.m.Unlock()

	if err, ok := f.fail[msg.To]; ok {
		return "", err
	}
	f.sent = append(f.sent, msg)
	return "msg-" + msg.To, nil
}

// hookTransport also receives provider webhooks
type hookTransport struct {
	fakeTransport
}

func (h *hookTransport) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/fake", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hooked"))
	}).Methods(http.MethodPost)
}

func seedStore(t *testing.T) *inmemory.InMemory {
	ctx := context.Background()
	db := inmemory.GetInMemoryDB()

	e := data.Edition{
		Title:         "Radar 7",
		EditionNumber: "7",
		BaseHTML:      `<html><head><title>{{title}}</title></head><body><main>{{blocks}}</main></body></html>`,
		Blocks: []data.Block{
			{AccessSegment: data.SegmentAll, HTML: `<p id="hello">Hello {{name}}</p>`},
			{AccessSegment: data.SegmentSubscribers, HTML: `<p id="subs">Premium</p>`},
		},
	}

	require.NoError(t, db.Set(ctx, data.EditionPath("ed-1"), e.Fields(), false))
	require.NoError(t, db.Set(ctx, data.RecipientPath(data.SegmentLeads, "lead-1"), data.Fields{"name": "Ana", "email": "ana@example.com"}, false))
	require.NoError(t, db.Set(ctx, data.LeadSendPath("lead-1", "send-1"), data.Fields{
		data.FieldRecipientID: "lead-1",
		data.FieldEditionID:   "ed-1",
		data.FieldAccessToken: "tok-1",
	}, false))
	require.NoError(t, db.Set(ctx, data.LeadSendPath("lead-1", "send-old"), data.Fields{
		data.FieldAccessToken: "tok-old",
		data.FieldExpiresAt:   time.Now().Add(-time.Hour),
	}, false))

	return db
}

func newTestServer(t *testing.T, cfg Config, transport email.Transport) (*Server, *inmemory.InMemory) {
	db := seedStore(t)

	if cfg.Key == "" {
		cfg.Key = testKey
	}
	if cfg.URL == "" {
		cfg.URL = "https://radar.example.com"
	}

	s, err := New(cfg, db, transport)
	require.NoError(t, err)

	return s, db
}

func do(s *Server, method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		r.Header[k] = v
	}

	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, r)
	return rr
}

func TestServer_Ping(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &fakeTransport{})

	rr := do(s, http.MethodGet, "/ping", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "PONG", rr.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &fakeTransport{})

	rr := do(s, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_Newsletter(t *testing.T) {
	s, db := newTestServer(t, Config{Developing: true}, &fakeTransport{})

	rr := do(s, http.MethodGet, "/newsletter?nid=ed-1&env=send-1&uid=lead-1&token=tok-1", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Hello Ana")
	assert.NotContains(t, body, "Premium")
	assert.Contains(t, body, "Exclusive for Ana")
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, private", rr.Header().Get("Cache-Control"))
	assert.Equal(t, version, rr.Header().Get("X-Radar-Version"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))

	d, err := db.Get(context.Background(), data.LeadSendPath("lead-1", "send-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Fields.Int(data.FieldTotalAccesses))
}

func TestServer_NewsletterShortLink(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &fakeTransport{})

	q := url.Values{}
	q.Set("nid", "ed-1")
	q.Set("env", "send-1")
	q.Set("uid", "lead-1")
	q.Set("token", "tok-1")

	rr := do(s, http.MethodGet, "/n?d="+url.QueryEscape(gate.EncodeShortLink(q)), "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Hello Ana")
}

func TestServer_NewsletterDenied(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
		msg    string
	}{
		{name: "missing params", query: "nid=ed-1&env=send-1", status: http.StatusBadRequest, msg: "invalid link"},
		{name: "unknown send", query: "nid=ed-1&env=nope&uid=lead-1&token=tok-1", status: http.StatusNotFound, msg: "send record not found"},
		{name: "wrong token", query: "nid=ed-1&env=send-1&uid=lead-1&token=bad", status: http.StatusForbidden, msg: "invalid token"},
		{name: "expired", query: "nid=ed-1&env=send-old&uid=lead-1&token=tok-old", status: http.StatusGone, msg: "link expired"},
		{name: "unknown edition", query: "nid=ed-2&env=send-1&uid=lead-1&token=tok-1", status: http.StatusNotFound, msg: "newsletter not found"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, _ := newTestServer(t, Config{}, &fakeTransport{})

			rr := do(s, http.MethodGet, "/newsletter?"+test.query, "", nil)

			assert.Equal(t, test.status, rr.Code)
			assert.Contains(t, rr.Body.String(), test.msg)
			assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
		})
	}
}

func TestServer_NewsletterOverShared(t *testing.T) {
	s, _ := newTestServer(t, Config{AccessThreshold: 2}, &fakeTransport{})

	target := "/newsletter?nid=ed-1&env=send-1&uid=lead-1&token=tok-1"

	for i := 0; i < 2; i++ {
		rr := do(s, http.MethodGet, target, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "Hello Ana")
	}

	rr := do(s, http.MethodGet, target, "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Exclusive content")
	assert.NotContains(t, rr.Body.String(), "Hello Ana")
}

func TestServer_DefaultAccessThreshold(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &fakeTransport{})

	target := "/newsletter?nid=ed-1&env=send-1&uid=lead-1&token=tok-1"

	for i := 0; i < gate.DefaultThreshold; i++ {
		rr := do(s, http.MethodGet, target, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		require.Contains(t, rr.Body.String(), "Hello Ana")
	}

	rr := do(s, http.MethodGet, target, "", nil)
	assert.Contains(t, rr.Body.String(), "Exclusive content")
	assert.NotContains(t, rr.Body.String(), "Hello Ana")
}

func TestServer_WebhooksRegistered(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &hookTransport{})

	rr := do(s, http.MethodPost, "/webhooks/fake", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hooked", rr.Body.String())

	// transports without webhooks get no route
	s2, _ := newTestServer(t, Config{}, &fakeTransport{})
	rr = do(s2, http.MethodPost, "/webhooks/fake", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_StartFails(t *testing.T) {
	_, err := New(Config{Key: testKey}, failingStart{inmemory.GetInMemoryDB()}, &fakeTransport{})
	assert.Error(t, err)
}

type failingStart struct {
	*inmemory.InMemory
}

func (failingStart) Start() error {
	return errors.New("no database")
}

func TestServer_ClickBeacon(t *testing.T) {
	var m sync.Mutex
	var hits []url.Values

	beacon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Lock()
		hits = append(hits, r.URL.Query())
		m.Unlock()
	}))
	defer beacon.Close()

	s, _ := newTestServer(t, Config{ClickBeaconURL: beacon.URL, UsingLambda: true}, &fakeTransport{})

	rr := do(s, http.MethodGet, "/newsletter?nid=ed-1&env=send-1&uid=lead-1&token=tok-1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// in lambda mode the handler waits for the beacon before returning
	m.Lock()
	defer m.Unlock()
	require.Len(t, hits, 1)
	assert.Equal(t, "ed-1", hits[0].Get("nid"))
	assert.Equal(t, "send-1", hits[0].Get("env"))
	assert.Equal(t, "lead-1", hits[0].Get("uid"))
}

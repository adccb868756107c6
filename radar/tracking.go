package radar

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/metrics"
	log "github.com/sirupsen/logrus"
)

// smallest transparent gif
var pixel, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// OpenPixel counts an open against the send in the query string. The gif is always returned.
func (s *Server) OpenPixel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := data.SendRef{
		RecipientID:    q.Get("uid"),
		SubscriptionID: q.Get("assinaturaId"),
		SendID:         q.Get("env"),
	}

	if validRef(ref) {
		s.track(r.Context(), ref, data.FieldOpens, "open")
	}

	w.Header().Set("Content-Type", "image/gif")
	_, err := w.Write(pixel)
	if err != nil {
		log.WithError(err).Error("OpenPixel: failed to write response")
	}
}

// ClickRedirect verifies a signed link, counts the click and redirects to the destination
func (s *Server) ClickRedirect(w http.ResponseWriter, r *http.Request) {
	c, err := s.notary.VerifyClick(r.URL.Query().Get("l"))
	if err != nil {
		log.WithError(err).Debug("ClickRedirect: rejected link")
		http.Error(w, "Invalid link", http.StatusBadRequest)
		return
	}

	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		log.WithField("url", c.URL).Warn("ClickRedirect: signed link has an unsupported destination")
		http.Error(w, "Invalid link", http.StatusBadRequest)
		return
	}

	ref := data.SendRef{
		RecipientID:    c.RecipientID,
		SubscriptionID: c.SubscriptionID,
		SendID:         c.SendID,
	}
	if validRef(ref) {
		s.track(r.Context(), ref, data.FieldClicks, "click")
	}

	http.Redirect(w, r, u.String(), http.StatusFound)
}

func validRef(ref data.SendRef) bool {
	if !data.ValidID(ref.RecipientID) || !data.ValidID(ref.SendID) {
		return false
	}
	return ref.SubscriptionID == "" || data.ValidID(ref.SubscriptionID)
}

// track bumps the counter on the send record. Failures are logged and counted but never reach
// the caller.
func (s *Server) track(ctx context.Context, ref data.SendRef, field, event string) {
	lg := log.WithFields(log.Fields{
		"path":  ref.Path(),
		"event": event,
	})

	_, err := s.db.Increment(ctx, ref.Path(), field, 1)
	if err == data.ErrNotFound {
		lg.Debug("track: send record not found")
		return
	} else if err != nil {
		lg.WithError(err).Warn("track: failed to increment counter")
		metrics.BestEffortFailures.WithLabelValues(event).Inc()
		return
	}

	metrics.TrackingEvents.WithLabelValues(event).Inc()

	err = s.db.Update(ctx, ref.Path(), data.Fields{
		data.FieldLastEvent:   event,
		data.FieldLastEventAt: time.Now().UTC(),
	})
	if err != nil {
		lg.WithError(err).Warn("track: failed to record last event")
		metrics.BestEffortFailures.WithLabelValues(event).Inc()
	}
}


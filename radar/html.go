package radar

import (
	"errors"
	"net/http"

	"github.com/radarsiope/radar/gate"
	log "github.com/sirupsen/logrus"
)

// Newsletter checks the link in the query string and writes out the personalised edition
func (s *Server) Newsletter(w http.ResponseWriter, r *http.Request) {
	req := gate.RequestFromQuery(r.URL.Query())

	page, err := s.gate.Open(r.Context(), req)

	// lambda freezes the process once the response is written so detached work must finish first
	if s.cfg.UsingLambda {
		defer s.bg.Wait()
	}

	var d *gate.Denial
	if errors.As(err, &d) {
		s.writeMessage(w, denialStatus(d.Kind), denialTitle(d.Kind), d.Message)
		return
	} else if err != nil {
		log.WithError(err).Error("Newsletter: failed to open newsletter")
		s.writeMessage(w, http.StatusInternalServerError, "Something went wrong", gate.MsgUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err = w.Write([]byte(page.HTML))
	if err != nil {
		log.WithField("editionID", req.EditionID).WithError(err).Error("Newsletter: failed to write response")
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, code int, title, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)

	err := messageTemplate.ExecuteTemplate(w, "base", messageOut{Title: title, Message: msg})
	if err != nil {
		log.WithError(err).Error("writeMessage: failed to write template response")
	}
}

package radar

import (
	"fmt"
	"net/http"

	"github.com/justinas/alice"
	"github.com/radarsiope/radar/token"
	log "github.com/sirupsen/logrus"
)

// APIKeyHeader carries the key of dispatch callers
const APIKeyHeader = "X-Radar-Key"

// JSONContentType sets content type of request to json
func JSONContentType(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.ServeHTTP(w, r)
	})
}

// CheckPermissionJSON checks whether or not the caller presented a valid api key
func (s *Server) CheckPermissionJSON(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Header.Get(APIKeyHeader)

		id, err := s.tg.VerifyToken(k)

		if err == token.ErrTokenExpired {
			returnJSONError(w, r, http.StatusForbidden, "Forbidden: your token has expired")
			return
		} else if err != nil {
			log.WithError(err).Debug("CheckPermissionJSON: rejected key")
			returnJSONError(w, r, http.StatusUnauthorized, "Unauthorized: given auth key invalid")
			return
		}

		log.WithField("client", id).Debug("CheckPermissionJSON: authorised")

		h.ServeHTTP(w, r)
	})
}

// NoStore stops personalised responses from being cached
func NoStore(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, private")

		h.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets a whole bunch of headers to secure the site. Newsletter editions carry
// their own images and styles so extContent relaxes the policy for those.
func (s *Server) SecurityHeaders(extContent bool) alice.Constructor {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// check to see if we are developing before forcing strict transport
			if !s.cfg.Developing {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			styleSrc := "'self' 'unsafe-inline'"
			imgSrc := "'self'"
			fntSrc := "'self'"

			if extContent {
				styleSrc = "* 'unsafe-inline'"
				imgSrc = "* data:"
				fntSrc = "*"
			}

			csp := fmt.Sprintf("script-src 'none'; font-src %v; style-src %v; img-src %v; default-src 'self'; frame-ancestors 'none'", fntSrc, styleSrc, imgSrc)

			w.Header().Set("Content-Security-Policy", csp)

			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "no-referrer")

			h.ServeHTTP(w, r)
		})
	}
}

// SetVersionHeader adds a header with the current version
func SetVersionHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Radar-Version", version)

		h.ServeHTTP(w, r)
	})
}

// RestoreRealIP uses the real ip of the request from the CF-Connecting-IP header
func RestoreRealIP(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("CF-Connecting-IP")
		if ip != "" {
			r.RemoteAddr = ip
		}
		h.ServeHTTP(w, r)
	})
}

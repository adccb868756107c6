package radar

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/radarsiope/radar/gate"
)

//go:embed templates
var templateFiles embed.FS

var messageTemplate = template.Must(template.ParseFS(templateFiles, "templates/base.html", "templates/message.html"))

type messageOut struct {
	Title   string
	Message string
}

var denialTitles = map[gate.Kind]string{
	gate.MalformedRequest: "Invalid link",
	gate.NotFound:         "Not found",
	gate.Unauthorized:     "Invalid link",
	gate.Expired:          "Link expired",
	gate.AbuseSuspected:   "Exclusive content",
	gate.Unavailable:      "Temporarily unavailable",
}

// denialStatus maps the denial kind onto the response status. Suspected sharing is answered with
// a normal page so the notice reaches whoever holds the link.
func denialStatus(k gate.Kind) int {
	switch k {
	case gate.MalformedRequest:
		return http.StatusBadRequest
	case gate.NotFound:
		return http.StatusNotFound
	case gate.Unauthorized:
		return http.StatusForbidden
	case gate.Expired:
		return http.StatusGone
	case gate.AbuseSuspected:
		return http.StatusOK
	case gate.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func denialTitle(k gate.Kind) string {
	if t, ok := denialTitles[k]; ok {
		return t
	}
	return "Something went wrong"
}

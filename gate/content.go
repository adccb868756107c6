package gate

import (
	"html"
	"regexp"
	"strings"

	"github.com/radarsiope/radar/data"
)

// BlocksMarker is replaced by the blocks visible to the recipient
const BlocksMarker = "{{blocks}}"

// Assemble builds the edition html for a segment. Blocks not visible to the segment are dropped.
func Assemble(e data.Edition, s data.Segment) string {
	if len(e.Blocks) == 0 {
		return e.BaseHTML
	}

	var sb strings.Builder
	for _, b := range e.Blocks {
		if b.AccessSegment == data.SegmentAll || b.AccessSegment == s {
			sb.WriteString(b.HTML)
		}
	}

	if strings.Contains(e.BaseHTML, BlocksMarker) {
		return strings.Replace(e.BaseHTML, BlocksMarker, sb.String(), -1)
	}

	return e.BaseHTML + sb.String()
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_]*)\s*\}\}`)

// Substitute replaces {{field}} with the html escaped value of field. Unknown fields are kept as
// they are.
func Substitute(s string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := values[name]
		if !ok {
			return m
		}
		return html.EscapeString(v)
	})
}

// Placeholders returns the values available to edition templates
func Placeholders(req Request, e data.Edition, r data.Recipient) map[string]string {
	return map[string]string{
		"name":          r.Name,
		"email":         r.Email,
		"editionNumber": e.EditionNumber,
		"title":         e.Title,
		"editionId":     req.EditionID,
		"sendId":        req.SendID,
		"recipientId":   req.RecipientID,
		"segment":       string(r.Segment),
	}
}

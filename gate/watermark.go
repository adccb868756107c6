package gate

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/radarsiope/radar/data"
)

const noSelectStyle = `<style class="radar-watermark">main, article, .content, .newsletter {` +
	` -webkit-user-select: none; -moz-user-select: none; -ms-user-select: none; user-select: none; }</style>`

const bannerFormat = `<div class="radar-watermark" style="font-size:12px;color:#8a8a8a;text-align:center;padding:8px 0;">%v</div>`

// WatermarkText is the banner text identifying who a page was rendered for
func WatermarkText(r data.Recipient, at time.Time) string {
	return fmt.Sprintf("Exclusive for %v · %v · %v", r.Name, r.Email, at.Format("02/01/2006 15:04"))
}

// Watermark adds the banner at the top and bottom of the body and disables text selection on the
// content regions
func Watermark(page, text string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("Watermark: failed to create goquery doc: %v", err)
	}

	banner := fmt.Sprintf(bannerFormat, html.EscapeString(text))

	body := doc.Find("body")
	body.PrependHtml(banner)
	body.AppendHtml(banner)

	doc.Find("head").AppendHtml(noSelectStyle)

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("Watermark: failed to get html doc: %v", err)
	}

	return out, nil
}

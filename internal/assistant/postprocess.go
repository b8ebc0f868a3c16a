package assistant

import (
	"regexp"
	"strings"

	"github.com/xaenox/messenger-relay/internal/models"
)

var (
	imageDirective = regexp.MustCompile(`\[image_url:\s*(https?://[^\s]+)\]`)
	citationMarker = regexp.MustCompile(`【[^】]*†source[^】]*】`)
)

// Process extracts the first [image_url: URL] directive from raw assistant
// output, removes it together with every 【…†source…】 citation marker, and
// trims the result.
func Process(raw string) models.Reply {
	var reply models.Reply

	text := raw
	if loc := imageDirective.FindStringSubmatchIndex(text); loc != nil {
		reply.Image = text[loc[2]:loc[3]]
		text = text[:loc[0]] + text[loc[1]:]
	}

	text = citationMarker.ReplaceAllString(text, "")
	reply.Text = strings.TrimSpace(text)

	return reply
}

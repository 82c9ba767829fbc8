package util

import (
	"fmt"
	"net/url"
	"strings"
)

func FormatURL(base string, endpoint string, useTLS bool) string {
	prefix := "https://"
	if !useTLS {
		prefix = "http://"
	}

	return fmt.Sprintf("%s%s%s", prefix, base, endpoint)
}

// WhatsAppLink builds a wa.me link from a phone number in any notation.
// It returns an empty string when the number has no digits.
func WhatsAppLink(number string, text string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if digits == "" {
		return ""
	}

	link := "https://wa.me/" + digits
	if text != "" {
		link += "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	}
	return link
}

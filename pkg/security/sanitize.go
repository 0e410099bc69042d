package security

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// element bodies that must not survive with their tags stripped
	activeContent = regexp.MustCompile(`(?is)<(script|style|iframe|object|embed)[^>]*>.*?</(script|style|iframe|object|embed)\s*>`)
	markupTag     = regexp.MustCompile(`<[^>]*>`)
	scriptScheme  = regexp.MustCompile(`(?i)\b(javascript|vbscript|data)\s*:`)
	eventAttr     = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)

	// Kenyan MSISDNs in any of the accepted spellings: 07.., 01.., 2547.., +2547..
	msisdnInText = regexp.MustCompile(`\+?(?:254|0)[17]\d{8}`)
)

// CleanText normalizes free text a user typed: refund reasons, dispute notes, promo
// descriptions. Markup and control characters are removed, whitespace runs collapse to one
// space and the result is cut to maxRunes when maxRunes > 0.
func CleanText(input string, maxRunes int) string {
	s := activeContent.ReplaceAllString(input, "")
	s = markupTag.ReplaceAllString(s, "")
	s = scriptScheme.ReplaceAllString(s, "")
	s = eventAttr.ReplaceAllString(s, "")

	s = strings.Join(strings.FieldsFunc(s, isSeparator), " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)

	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	return s
}

// HasMarkup reports whether CleanText would strip anything other than whitespace
func HasMarkup(input string) bool {
	return markupTag.MatchString(input) || scriptScheme.MatchString(input) || eventAttr.MatchString(input)
}

// MaskPhone hides all but the country prefix and last three digits: 254712345678 -> 2547*****678
func MaskPhone(phone string) string {
	phone = strings.Map(func(r rune) rune {
		if r == '+' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, phone)
	if len(phone) <= 7 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-3:]
}

// MaskPhonesInText masks every Kenyan phone number found in free text
func MaskPhonesInText(input string) string {
	return msisdnInText.ReplaceAllStringFunc(input, MaskPhone)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == 0
}

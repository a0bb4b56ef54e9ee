package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\-\s().]{6,}\d`)

	// identityTokens mark a key as sensitive wherever they appear as a whole token.
	identityTokens = map[string]struct{}{
		"email": {}, "mail": {}, "phone": {}, "mobile": {}, "msisdn": {},
		"username": {}, "userid": {}, "customerid": {}, "accountid": {},
		"ssn": {}, "passport": {},
	}
	// identityPairs mark a key as sensitive when both tokens appear next to each other.
	identityPairs = map[[2]string]struct{}{
		{"user", "id"}: {}, {"user", "name"}: {}, {"customer", "id"}: {}, {"account", "id"}: {},
		{"first", "name"}: {}, {"last", "name"}: {}, {"full", "name"}: {},
		{"ip", "address"}: {}, {"source", "ip"}: {}, {"client", "ip"}: {},
		{"home", "address"}: {}, {"street", "address"}: {}, {"postal", "address"}: {},
	}
	// bareTokens are sensitive only as the entire key.
	bareTokens = map[string]struct{}{"name": {}, "address": {}}
)

// IsSensitiveKey reports whether a free-form key looks like it carries identity data.
// Keys are split into lower-case tokens on separators and camelCase boundaries, so
// "hostname" and "service_name" pass while "user_name" and "customerId" do not.
func IsSensitiveKey(key string) bool {
	if key == "" {
		return false
	}
	if emailPattern.MatchString(key) || phonePattern.MatchString(key) {
		return true
	}
	tokens := keyTokens(key)
	if len(tokens) == 1 {
		if _, ok := bareTokens[tokens[0]]; ok {
			return true
		}
	}
	for i, tok := range tokens {
		if _, ok := identityTokens[tok]; ok {
			return true
		}
		if i > 0 {
			if _, ok := identityPairs[[2]string{tokens[i-1], tok}]; ok {
				return true
			}
		}
	}
	return false
}

func keyTokens(key string) []string {
	var (
		tokens []string
		cur    strings.Builder
		prev   rune
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range key {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur.WriteRune(unicode.ToLower(r))
		default:
			cur.WriteRune(unicode.ToLower(r))
		}
		prev = r
	}
	flush()
	return tokens
}

// SafeFeatures drops identity-looking keys from a feature map.
func SafeFeatures(features map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(features))
	for key, value := range features {
		if IsSensitiveKey(key) {
			continue
		}
		out[key] = value
	}
	return out
}

// SafeLabel returns value, or "redacted" when it looks like identity data.
func SafeLabel(value string) string {
	if IsSensitiveKey(value) {
		return "redacted"
	}
	return value
}

// Package canon normalizes content URLs and derives their cache fingerprint.
//
// Grounded on the teacher's server/upwork_url_parser.go (stdlib net/url
// parsing, deterministic query re-encoding) and on original_source's
// cache_service.py:_normalize_tiktok_url / _generate_cache_key for the
// exact normalization and hashing semantics, plus url_router.py's
// detect_platform for the platform allow-lists.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Platform identifies the short-form video platform a URL belongs to.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformUnknown   Platform = ""
)

var ignoredParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"share_id":     {},
	"timestamp":    {},
	"ref":          {},
	"source":       {},
}

var tiktokDomains = map[string]struct{}{
	"tiktok.com":    {},
	"vm.tiktok.com": {},
	"m.tiktok.com":  {},
	"vt.tiktok.com": {},
}

var instagramDomains = map[string]struct{}{
	"instagram.com": {},
	"instagr.am":    {},
}

// Normalize maps a raw URL to its canonical string form: lowercased host
// with any leading www. stripped, ignored query params dropped, remaining
// params re-encoded in deterministic key order, trailing slash stripped.
// Inputs that don't parse as a URL fall back to strip().lower().
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(trimmed)
	}

	host := strings.ToLower(parsed.Host)
	host = strings.TrimPrefix(host, "www.")

	query := normalizeQuery(parsed.Query())

	normalized := host + parsed.Path
	if query != "" {
		normalized += "?" + query
	}
	return strings.TrimSuffix(normalized, "/")
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if _, ignored := ignoredParams[strings.ToLower(k)]; ignored {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	encoded := url.Values{}
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		encoded[k] = vs
	}
	return encoded.Encode()
}

// Fingerprint derives the 16-hex-char cache key for a (url, locale) pair.
// Locale is trimmed and lowercased before being folded into the hash, so
// "Spanish", " spanish " and "spanish" are equivalent.
func Fingerprint(raw string, locale string) string {
	input := Normalize(raw)
	if loc := strings.ToLower(strings.TrimSpace(locale)); loc != "" {
		input = input + "|" + loc
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// DetectPlatform classifies a raw URL as tiktok, instagram, or unknown.
// A missing scheme is treated as https, matching url_router.py.
func DetectPlatform(raw string) Platform {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PlatformUnknown
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return PlatformUnknown
	}

	domain := strings.ToLower(parsed.Host)
	domain = strings.TrimPrefix(domain, "www.")

	if _, ok := tiktokDomains[domain]; ok {
		return PlatformTikTok
	}
	if _, ok := instagramDomains[domain]; ok {
		return PlatformInstagram
	}
	return PlatformUnknown
}

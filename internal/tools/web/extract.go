// Package web implements the web.search tool (spec §4.4), grounded on the
// teacher's internal/tools/websearch package: the SSRF guard in extract.go
// and its regex-based readability extraction (removeTag/extractText/
// cleanText), narrowed to a single configurable search endpoint per
// SPEC_FULL §3 instead of the teacher's multi-backend (SearXNG/DuckDuckGo/
// Brave) configuration.
package web

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// validateURLForSSRF blocks loopback, link-local, private, unspecified, and
// multicast targets plus the cloud metadata address, unchanged from the
// teacher's extract.go.
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to a private/reserved IP address")
		}
	}
	return nil
}

func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	return ip.Equal(net.ParseIP("169.254.169.254"))
}

var blockTags = []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"}
var blockElements = []string{"p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br"}

// stripHTML removes script/style/nav-like blocks, converts block-element
// boundaries to newlines, strips remaining tags, decodes common entities,
// and collapses whitespace (spec §4.4: "strip HTML tags and script/style
// blocks ... decode HTML entities, collapse whitespace").
func stripHTML(html string) string {
	for _, tag := range blockTags {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}
	for _, tag := range blockElements {
		html = regexp.MustCompile(`(?i)<`+tag+`[^>]*>`).ReplaceAllString(html, "\n")
		html = regexp.MustCompile(`(?i)</`+tag+`>`).ReplaceAllString(html, "\n")
	}
	html = regexp.MustCompile(`<[^>]*>`).ReplaceAllString(html, "")

	html = decodeEntities(html)
	return collapseWhitespace(html)
}

func decodeEntities(text string) string {
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&apos;", "'",
	)
	return replacer.Replace(text)
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLineRun = regexp.MustCompile(`\n{3,}`)

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	joined := strings.Join(lines, "\n")
	joined = blankLineRun.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}

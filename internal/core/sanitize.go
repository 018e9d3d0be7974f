package core

import (
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The sanitizer turns arbitrary fetched HTML into a document that is
// safe to render in a sandboxed frame. It is a pure transformation: no
// network, no storage. Defense is layered: a CSP meta tag forbids all
// network-origin loads, and anything the CSP would have blocked is
// additionally stripped or replaced so the reader never shows broken
// resource holes.
const cspContent = "default-src 'none'; img-src data:; style-src 'unsafe-inline'; " +
	"script-src 'unsafe-inline'; connect-src 'none'; form-action 'none'"

const cspMetaTag = `<meta http-equiv="Content-Security-Policy" content="` + cspContent + `">`

// blockedImageSVG is the inert placeholder substituted for
// external-origin images.
const blockedImageSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="240" height="60">` +
	`<rect width="240" height="60" fill="#e0e0e0" stroke="#9e9e9e"/>` +
	`<text x="120" y="35" text-anchor="middle" font-family="sans-serif" font-size="12" fill="#616161">` +
	`Image blocked for security</text></svg>`

var blockedImageDataURI = "data:image/svg+xml;base64," +
	base64.StdEncoding.EncodeToString([]byte(blockedImageSVG))

// darkThemeStyle is injected when dark mode is requested. It must land
// before the progress script so colors apply before any reader
// interaction.
const darkThemeStyle = `<style id="stashd-dark-theme">
html, body { background: #121212 !important; color: #d6d6d6 !important; }
a { color: #8ab4f8 !important; }
blockquote { color: #9e9e9e !important; border-left: 3px solid #424242; }
code, pre { background: #1e1e1e !important; color: #ce9178 !important; }
</style>`

// progressScript computes scroll-based read percentage inside the
// sandboxed document and relays it to the parent frame. The message
// protocol ({type, detail:{progress, scrollPosition}}) is the only
// capability the untrusted document is granted.
const progressScript = `<script id="stashd-progress">
(function () {
	function report() {
		var doc = document.documentElement;
		var max = doc.scrollHeight - window.innerHeight;
		var y = window.scrollY || doc.scrollTop || 0;
		var progress = max > 0 ? Math.min(100, Math.round((y / max) * 100)) : 100;
		parent.postMessage({
			type: 'progress-update',
			detail: { progress: progress, scrollPosition: Math.round(y) }
		}, '*');
	}
	var pending = false;
	window.addEventListener('scroll', function () {
		if (pending) { return; }
		pending = true;
		window.requestAnimationFrame(function () { pending = false; report(); });
	}, { passive: true });
	window.addEventListener('load', report);
})();
</script>`

// Sanitize neutralizes untrusted HTML for offline display. The result
// is always a complete document: bare fragments are wrapped in a
// minimal shell, a strict CSP is injected, and every external-origin
// resource reference is removed or replaced. Inline scripts and styles
// are preserved; the sandboxed frame plus the CSP keep them inert.
//
// Sanitize never fails: unparseable input degrades to a minimal
// document carrying the input as escaped text.
func Sanitize(rawHTML string, darkMode bool) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return fallbackDocument("Content could not be displayed.", html.EscapeString(rawHTML), darkMode)
	}

	// Relative URLs must never resolve against the original origin.
	doc.Find("base").Remove()

	// Meta refresh is a redirect in disguise.
	doc.Find("meta[http-equiv]").Each(func(i int, s *goquery.Selection) {
		if equiv, _ := s.Attr("http-equiv"); strings.EqualFold(equiv, "refresh") {
			s.Remove()
		}
	})

	// External scripts and stylesheets go entirely; their inline
	// counterparts stay.
	doc.Find("script[src]").Each(func(i int, s *goquery.Selection) {
		if src, _ := s.Attr("src"); isExternalRef(src) {
			s.Remove()
		}
	})
	doc.Find("link[rel='stylesheet']").Each(func(i int, s *goquery.Selection) {
		if href, _ := s.Attr("href"); isExternalRef(href) {
			s.Remove()
		}
	})

	// External images become an inert labelled placeholder; data URIs
	// pass through unchanged.
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		s.RemoveAttr("srcset")
		src, exists := s.Attr("src")
		if !exists || src == "" {
			return
		}
		if isExternalRef(src) {
			s.SetAttr("src", blockedImageDataURI)
			s.SetAttr("alt", "blocked for security")
		}
	})
	doc.Find("source[srcset], source[src]").Each(func(i int, s *goquery.Selection) {
		s.RemoveAttr("srcset")
		s.RemoveAttr("src")
	})

	// Inline style attributes may smuggle network loads via url().
	doc.Find("[style]").Each(func(i int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if strings.Contains(style, "url(") {
			s.SetAttr("style", stripExternalCSSURLs(style))
		}
	})

	head := doc.Find("head")
	head.PrependHtml(cspMetaTag)

	body := doc.Find("body")
	if darkMode {
		body.AppendHtml(darkThemeStyle)
	}
	body.AppendHtml(progressScript)

	out, err := doc.Html()
	if err != nil {
		return fallbackDocument("Content could not be displayed.", "", darkMode)
	}
	return out
}

// isExternalRef reports whether a resource reference would reach out to
// the network when resolved. The sanitized document has no trusted
// origin, so anything that is not a data URI counts as external; this
// covers absolute, protocol-relative and relative references alike.
func isExternalRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "about:") || strings.HasPrefix(ref, "#") {
		return false
	}
	return true
}

// stripExternalCSSURLs removes external-origin url() references from a
// CSS declaration block while preserving the other declarations. Data
// URIs are kept as-is.
func stripExternalCSSURLs(css string) string {
	var result strings.Builder
	remaining := css

	for {
		startIdx := strings.Index(remaining, "url(")
		if startIdx == -1 {
			result.WriteString(remaining)
			break
		}

		result.WriteString(remaining[:startIdx])

		afterURL := remaining[startIdx+4:]
		endIdx := strings.Index(afterURL, ")")
		if endIdx == -1 {
			// Unterminated url(); drop the rest rather than let a
			// malformed declaration through.
			break
		}

		urlContent := strings.TrimSpace(afterURL[:endIdx])
		urlContent = strings.Trim(urlContent, `"'`)

		if strings.HasPrefix(strings.ToLower(urlContent), "data:") {
			result.WriteString(remaining[startIdx : startIdx+4+endIdx+1])
		} else {
			result.WriteString("none")
		}
		remaining = remaining[startIdx+4+endIdx+1:]
	}

	return result.String()
}

// fallbackDocument builds a minimal safe document shown when content is
// unavailable or unparseable. It goes through the same shell as
// sanitized output (CSP included) so callers can treat it uniformly.
func fallbackDocument(message, detail string, darkMode bool) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html><html><head>")
	sb.WriteString(cspMetaTag)
	sb.WriteString("<title>Content unavailable</title></head><body>")
	fmt.Fprintf(&sb, "<p>%s</p>", html.EscapeString(message))
	if detail != "" {
		fmt.Fprintf(&sb, "<pre>%s</pre>", detail)
	}
	if darkMode {
		sb.WriteString(darkThemeStyle)
	}
	sb.WriteString(progressScript)
	sb.WriteString("</body></html>")
	return sb.String()
}

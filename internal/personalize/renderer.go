// Package personalize renders campaign content for a single recipient:
// Liquid variable substitution plus tracking pixel, click rewrite, and
// unsubscribe link injection.
package personalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// Rendered is the per-recipient output ready for the transport.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer substitutes recipient variables and injects tracking markup.
// Parsed templates are cached by campaign, so re-renders across a send only
// pay the substitution cost.
type Renderer struct {
	engine  *liquid.Engine
	cache   sync.Map // map[string]*liquid.Template
	baseURL string
}

// NewRenderer creates a renderer. baseURL is the public tracking origin,
// e.g. "https://mail.example.com".
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{
		engine:  liquid.NewEngine(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

var (
	anchorHrefRe = regexp.MustCompile(`(?is)(<a\b[^>]*?href=["'])([^"']+)(["'])`)
	// Liquid accepts whitespace inside output tags, so placeholder
	// detection must too.
	pixelVarRe = regexp.MustCompile(`\{\{\s*tracking_pixel\s*\}\}`)
	unsubVarRe = regexp.MustCompile(`\{\{\s*unsubscribe_url\s*\}\}`)
	// Pixel imgs and unsubscribe paragraphs have no place in the plain-text part.
	pixelImgRe   = regexp.MustCompile(`(?is)<img[^>]*/track/open[^>]*>`)
	unsubParaRe  = regexp.MustCompile(`(?is)<p[^>]*>[^<]*unsubscribe[^<]*</p>`)
	anyTagRe     = regexp.MustCompile(`(?s)<[^>]+>`)
	unsubFooter  = `<p style="font-size:12px;color:#999"><a href="%s">Unsubscribe</a></p>`
	pixelImgStub = `<img src="%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`
)

// PixelURL returns the open-tracking pixel URL for a tracking token.
func (r *Renderer) PixelURL(trackingID string) string {
	return fmt.Sprintf("%s/track/open/%s", r.baseURL, trackingID)
}

// ClickURL returns the redirect URL wrapping target for a tracking token.
func (r *Renderer) ClickURL(trackingID, target string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s", r.baseURL, trackingID, url.QueryEscape(target))
}

// UnsubscribeURL returns the one-click unsubscribe URL for a tracking token.
func (r *Renderer) UnsubscribeURL(trackingID string) string {
	return fmt.Sprintf("%s/track/unsubscribe/%s", r.baseURL, trackingID)
}

// Render produces the personalized subject, HTML, and text for one
// recipient. The tracking_pixel variable carries the pixel URL, so
// templates write their own <img> around it; templates without the
// placeholder get a full pixel tag injected. Missing variables render as
// empty strings; a template that fails to parse falls back to its raw
// content rather than blocking the send.
func (r *Renderer) Render(c *domain.Campaign, contact *domain.Contact, trackingID string) *Rendered {
	pixelURL := r.PixelURL(trackingID)
	unsubURL := r.UnsubscribeURL(trackingID)

	vars := map[string]interface{}{
		"first_name":      contact.FirstName,
		"last_name":       contact.LastName,
		"email":           contact.Email,
		"tracking_pixel":  pixelURL,
		"unsubscribe_url": unsubURL,
	}

	html := r.substitute(c.ID+":html", c.HTMLBody, vars)
	if !pixelVarRe.MatchString(c.HTMLBody) {
		html = injectBeforeBodyClose(html, fmt.Sprintf(pixelImgStub, pixelURL))
	}
	html = r.rewriteLinks(html, trackingID)
	if !unsubVarRe.MatchString(c.HTMLBody) {
		html = injectBeforeBodyClose(html, fmt.Sprintf(unsubFooter, unsubURL))
	}

	textVars := map[string]interface{}{
		"first_name":      contact.FirstName,
		"last_name":       contact.LastName,
		"email":           contact.Email,
		"tracking_pixel":  "",
		"unsubscribe_url": unsubURL,
	}

	textSource := c.TextBody
	if textSource == "" {
		textSource = c.HTMLBody
	}
	text := r.substitute(c.ID+":text", stripHTML(textSource), textVars)

	return &Rendered{
		Subject: r.substitute(c.ID+":subject", c.Subject, textVars),
		HTML:    html,
		Text:    text,
	}
}

// substitute runs a Liquid template with the cached parse. Parse and render
// errors degrade to the raw template (lax mode).
func (r *Renderer) substitute(cacheKey, templateStr string, vars map[string]interface{}) string {
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(cacheKey); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(templateStr)
		if err != nil {
			logger.Warn("template parse failed, sending raw content", "key", cacheKey, "error", err)
			return templateStr
		}
		r.cache.Store(cacheKey, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		logger.Warn("template render failed, sending raw content", "key", cacheKey, "error", err)
		return templateStr
	}
	return out
}

// injectBeforeBodyClose places the fragment before the final </body>,
// appending when the document has none.
func injectBeforeBodyClose(html, fragment string) string {
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + fragment + html[idx:]
	}
	return html + fragment
}

// rewriteLinks routes every anchor hyperlink through the click redirect.
// Non-anchor hrefs (<link>, <base>), mail links, fragment anchors, and
// URLs already under /track/ are left alone.
func (r *Renderer) rewriteLinks(html, trackingID string) string {
	return anchorHrefRe.ReplaceAllStringFunc(html, func(match string) string {
		parts := anchorHrefRe.FindStringSubmatch(match)
		if len(parts) < 4 {
			return match
		}
		target := parts[2]
		if strings.HasPrefix(target, "mailto:") || strings.HasPrefix(target, "#") ||
			strings.Contains(target, "/track/") {
			return match
		}
		return parts[1] + r.ClickURL(trackingID, target) + parts[3]
	})
}

// stripHTML derives plain text from HTML content: tracking pixels and
// unsubscribe paragraphs go first so their text never leaks through, then
// all remaining tags.
func stripHTML(html string) string {
	text := pixelImgRe.ReplaceAllString(html, "")
	text = unsubParaRe.ReplaceAllString(text, "")
	text = anyTagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

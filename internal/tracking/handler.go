package tracking

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/store"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler resolves tracking tokens and serves the visitor-facing responses.
// The token is the only credential: an unknown one still gets a pixel or a
// redirect so the endpoints leak nothing about which tokens exist.
type Handler struct {
	store     *store.Store
	collector *Collector
	log       *logger.Logger
}

func NewHandler(st *store.Store, collector *Collector) *Handler {
	return &Handler{store: st, collector: collector, log: logger.With("tracking")}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{trackingID}", h.HandleOpen)
	r.Get("/track/click/{trackingID}", h.HandleClick)
	r.Get("/track/unsubscribe/{trackingID}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open and serves the pixel. The pixel is served no
// matter what: a broken image in the mail client is never acceptable.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")

	rec, err := h.store.GetRecipientByTrackingID(r.Context(), trackingID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("open lookup failed", "tracking_id", trackingID, "error", err)
		}
		h.servePixel(w)
		return
	}

	h.collector.RecordOpen(r.Context(), rec, realIP(r), r.UserAgent())
	h.servePixel(w)
}

// HandleClick records a click and redirects to the destination. The visitor
// is redirected even when the token is unknown or recording fails.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")
	dest := r.URL.Query().Get("url")
	if dest == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	rec, err := h.store.GetRecipientByTrackingID(r.Context(), trackingID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("click lookup failed", "tracking_id", trackingID, "error", err)
		}
		http.Redirect(w, r, dest, http.StatusFound)
		return
	}

	h.collector.RecordClick(r.Context(), rec, dest, realIP(r), r.UserAgent())
	http.Redirect(w, r, dest, http.StatusFound)
}

// HandleUnsubscribe suppresses the contact and shows a confirmation page.
// Unknown tokens get a 404 page; a failed status update gets a 500 page,
// since telling the visitor they are unsubscribed when they are not would
// be worse than an error.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")

	rec, err := h.store.GetRecipientByTrackingID(r.Context(), trackingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			servePage(w, http.StatusNotFound, "Invalid Link",
				"This unsubscribe link is not valid. It may have expired.")
			return
		}
		h.log.Error("unsubscribe lookup failed", "tracking_id", trackingID, "error", err)
		servePage(w, http.StatusInternalServerError, "Something Went Wrong",
			"We could not process your request. Please try again later.")
		return
	}

	if err := h.collector.RecordUnsubscribe(r.Context(), rec, realIP(r), r.UserAgent()); err != nil {
		h.log.Error("unsubscribe failed", "contact_id", rec.ContactID, "error", err)
		servePage(w, http.StatusInternalServerError, "Something Went Wrong",
			"We could not process your request. Please try again later.")
		return
	}

	servePage(w, http.StatusOK, "You Have Been Unsubscribed",
		"You will no longer receive emails from this sender.")
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func servePage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>` + title + `</h1>
		<p>` + body + `</p>
	</body></html>`))
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

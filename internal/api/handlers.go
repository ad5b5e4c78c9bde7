package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/relay/internal/dispatch"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/httputil"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/store"
)

// Handlers holds the dependencies for the campaign API endpoints.
type Handlers struct {
	store    *store.Store
	dispatch *dispatch.Service
	log      *logger.Logger
}

func NewHandlers(st *store.Store, svc *dispatch.Service) *Handlers {
	return &Handlers{store: st, dispatch: svc, log: logger.With("api")}
}

// SetupRoutes configures the router with all API endpoints.
func SetupRoutes(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/contacts", h.CreateContact)
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Post("/send", h.SendCampaign)
				r.Post("/pause", h.PauseCampaign)
			})
		})
		r.Get("/queue/stats", h.QueueStats)
	})

	return r
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

type createContactRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}

	contact := &domain.Contact{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := h.store.CreateContact(r.Context(), contact); err != nil {
		h.log.Error("contact create failed", "email", contact.Email, "error", err)
		httputil.InternalError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, contact)
}

type createCampaignRequest struct {
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	HTMLBody  string `json:"html_body"`
	TextBody  string `json:"text_body"`
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Subject == "" || req.FromEmail == "" {
		httputil.BadRequest(w, "subject and from_email are required")
		return
	}

	c := &domain.Campaign{
		Name:      req.Name,
		Subject:   req.Subject,
		FromName:  req.FromName,
		FromEmail: req.FromEmail,
		HTMLBody:  req.HTMLBody,
		TextBody:  req.TextBody,
	}
	if err := h.store.CreateCampaign(r.Context(), c); err != nil {
		h.log.Error("campaign create failed", "name", c.Name, "error", err)
		httputil.InternalError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, c)
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	c, err := h.store.GetCampaign(r.Context(), campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, c)
}

// SendCampaign starts dispatching a campaign. The recipients are enqueued
// before the response is written, so a 202 means every pending recipient
// has a scheduled job.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	err := h.dispatch.StartSending(r.Context(), campaignID)
	switch {
	case err == nil:
		httputil.Accepted(w, map[string]string{"status": "sending", "campaign_id": campaignID})
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, dispatch.ErrNotSendable):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, dispatch.ErrNoRecipients):
		httputil.BadRequest(w, "campaign has no sendable recipients")
	default:
		h.log.Error("send failed", "campaign_id", campaignID, "error", err)
		httputil.InternalError(w, err)
	}
}

func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	err := h.dispatch.Pause(r.Context(), campaignID)
	switch {
	case err == nil:
		httputil.OK(w, map[string]string{"status": "paused", "campaign_id": campaignID})
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, dispatch.ErrNotPausable):
		httputil.Conflict(w, err.Error())
	default:
		h.log.Error("pause failed", "campaign_id", campaignID, "error", err)
		httputil.InternalError(w, err)
	}
}

func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dispatch.QueueStats(r.Context())
	if err != nil {
		h.log.Error("stats read failed", "error", err)
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

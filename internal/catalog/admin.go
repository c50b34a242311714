package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sendrec/portal/internal/httputil"
	"github.com/sendrec/portal/internal/signal"
	"github.com/sendrec/portal/internal/validate"
)

func firstProblem(messages ...string) string {
	for _, msg := range messages {
		if msg != "" {
			return msg
		}
	}
	return ""
}

// Limits publishes the field limits so admin tooling can validate up front.
func (h *Handler) Limits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}

type upsertSectionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

func (h *Handler) UpsertSection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req upsertSectionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if msg := firstProblem(validate.ID(id), validate.Title(title), validate.Description(req.Description)); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	_, err := h.db.Exec(r.Context(),
		`INSERT INTO sections (id, title, description, position)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title, description = EXCLUDED.description,
		     position = EXCLUDED.position, updated_at = now()`,
		id, title, req.Description, req.Position,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to save section")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type upsertItemRequest struct {
	SectionID string `json:"sectionId"`
	Title     string `json:"title"`
	MediaURL  string `json:"mediaUrl"`
	Position  int    `json:"position"`
}

func (h *Handler) UpsertItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req upsertItemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || req.SectionID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title and sectionId are required")
		return
	}
	if msg := firstProblem(validate.ID(id), validate.ID(req.SectionID), validate.Title(title), validate.MediaURL(req.MediaURL)); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	_, err := h.db.Exec(r.Context(),
		`INSERT INTO items (id, section_id, title, media_url, position)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET section_id = EXCLUDED.section_id, title = EXCLUDED.title,
		     media_url = EXCLUDED.media_url, position = EXCLUDED.position, updated_at = now()`,
		id, req.SectionID, title, req.MediaURL, req.Position,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			httputil.WriteError(w, http.StatusNotFound, "section not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to save item")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteSection(w http.ResponseWriter, r *http.Request) {
	h.deleteRow(w, r, `DELETE FROM sections WHERE id = $1`, "section")
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.deleteRow(w, r, `DELETE FROM items WHERE id = $1`, "item")
}

func (h *Handler) deleteRow(w http.ResponseWriter, r *http.Request, query, label string) {
	tag, err := h.db.Exec(r.Context(), query, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete "+label)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, label+" not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refreshSignalRequest struct {
	ClearPasswordCache bool `json:"clearPasswordCache"`
}

// BroadcastRefresh tells every connected learner session to refetch the
// catalog, optionally dropping their cached unlocks first. An empty body
// broadcasts a plain refresh.
func (h *Handler) BroadcastRefresh(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "refresh signals are not configured")
		return
	}

	var req refreshSignalRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	s := signal.New(h.now(), req.ClearPasswordCache)
	if err := h.bus.Publish(r.Context(), s); err != nil {
		slog.Error("catalog: failed to publish refresh signal", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to publish refresh signal")
		return
	}

	slog.Info("catalog: refresh signal published", "clear_password_cache", s.ClearPasswordCache)
	httputil.WriteJSON(w, http.StatusAccepted, s)
}

package catalog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/sendrec/portal/internal/content"
	"github.com/sendrec/portal/internal/httputil"
	"github.com/sendrec/portal/internal/validate"
)

// gated describes a table whose rows carry an optional password hash.
type gated struct {
	label       string
	selectQuery string
	setQuery    string
	clearQuery  string
}

var (
	sectionsTable = gated{
		label:       "section",
		selectQuery: `SELECT password FROM sections WHERE id = $1`,
		setQuery:    `UPDATE sections SET password = $1, updated_at = now() WHERE id = $2`,
		clearQuery:  `UPDATE sections SET password = NULL, updated_at = now() WHERE id = $1`,
	}
	itemsTable = gated{
		label:       "item",
		selectQuery: `SELECT password FROM items WHERE id = $1`,
		setQuery:    `UPDATE items SET password = $1, updated_at = now() WHERE id = $2`,
		clearQuery:  `UPDATE items SET password = NULL, updated_at = now() WHERE id = $1`,
	}
)

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) VerifySection(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, sectionsTable)
}

func (h *Handler) VerifyItem(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, itemsTable)
}

// verify answers 200 when the candidate matches or the row is not protected,
// and 403 when it does not match. Both carry a content.Validation body.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request, t gated) {
	id := chi.URLParam(r, "id")

	var req passwordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var hash *string
	err := h.db.QueryRow(r.Context(), t.selectQuery, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, t.label+" not found")
		return
	}
	if err != nil {
		slog.Error("catalog: failed to load password", "kind", t.label, "id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to check password")
		return
	}

	if hash == nil {
		httputil.WriteJSON(w, http.StatusOK, content.Validation{OK: true, HasPassword: false})
		return
	}

	if !checkPassword(*hash, req.Password) {
		httputil.WriteJSON(w, http.StatusForbidden, content.Validation{OK: false, HasPassword: true, Error: "incorrect password"})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, content.Validation{OK: true, HasPassword: true})
}

func (h *Handler) SetSectionPassword(w http.ResponseWriter, r *http.Request) {
	h.setPassword(w, r, sectionsTable)
}

func (h *Handler) SetItemPassword(w http.ResponseWriter, r *http.Request) {
	h.setPassword(w, r, itemsTable)
}

func (h *Handler) setPassword(w http.ResponseWriter, r *http.Request, t gated) {
	id := chi.URLParam(r, "id")

	var req passwordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validate.Password(req.Password); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	tag, err := h.db.Exec(r.Context(), t.setQuery, hash, id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to set password")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, t.label+" not found")
		return
	}

	slog.Info("catalog: password set", "kind", t.label, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearSectionPassword(w http.ResponseWriter, r *http.Request) {
	h.clearPassword(w, r, sectionsTable)
}

func (h *Handler) ClearItemPassword(w http.ResponseWriter, r *http.Request) {
	h.clearPassword(w, r, itemsTable)
}

func (h *Handler) clearPassword(w http.ResponseWriter, r *http.Request, t gated) {
	id := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(), t.clearQuery, id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to clear password")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, t.label+" not found")
		return
	}

	slog.Info("catalog: password cleared", "kind", t.label, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

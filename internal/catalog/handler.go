// Package catalog serves the sections and items a learner session reads, and
// checks section and video passwords against their bcrypt hashes.
package catalog

import (
	"net/http"
	"time"

	"github.com/sendrec/portal/internal/content"
	"github.com/sendrec/portal/internal/database"
	"github.com/sendrec/portal/internal/httputil"
	"github.com/sendrec/portal/internal/signal"
)

type Handler struct {
	db  database.DBTX
	bus signal.Bus
	now func() time.Time
}

func NewHandler(db database.DBTX, bus signal.Bus) *Handler {
	return &Handler{db: db, bus: bus, now: time.Now}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(r.Context(),
		`SELECT id, title, description, position, password IS NOT NULL AS has_password, updated_at
		 FROM sections
		 ORDER BY position, id`,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list sections")
		return
	}
	defer rows.Close()

	sections := make([]content.Section, 0)
	for rows.Next() {
		var s content.Section
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.Position, &s.HasPassword, &s.UpdatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan section")
			return
		}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list sections")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, listResponse[content.Section]{Items: sections})
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(r.Context(),
		`SELECT i.id, i.section_id, i.title, i.media_url, i.position, i.password IS NOT NULL AS has_password, i.updated_at
		 FROM items i
		 JOIN sections s ON s.id = i.section_id
		 ORDER BY s.position, i.position, i.id`,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	defer rows.Close()

	items := make([]content.Item, 0)
	for rows.Next() {
		var it content.Item
		if err := rows.Scan(&it.ID, &it.SectionID, &it.Title, &it.MediaURL, &it.Position, &it.HasPassword, &it.UpdatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan item")
			return
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, listResponse[content.Item]{Items: items})
}

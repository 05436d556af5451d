package handlers

import (
	"encoding/json"
	"net/http"

	"crisisfeed/models"

	"go.uber.org/zap"
)

// CommentsUpdate replaces a post's whole comment list. Adding and deleting
// a comment both arrive here.
func (a *API) CommentsUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Comments *[]models.Comment `json:"comments"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil || body.Comments == nil {
		jsonError(w, http.StatusBadRequest, "Request needs a comments array")
		return
	}

	comments := *body.Comments
	if fields := ValidateComments(comments); len(fields) > 0 {
		a.log.Debug("comments_rejected", zap.String("post_id", id), zap.Any("fields", fields))
		jsonResponse(w, http.StatusBadRequest, map[string]any{
			"error":  "Validation error",
			"fields": fields,
		})
		return
	}

	if err := a.store.UpdateComments(r.Context(), id, comments); err != nil {
		a.writeStoreError(w, "update_comments_failed", id, err)
		return
	}
	a.respondRow(w, r, id)
}

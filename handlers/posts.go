package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"crisisfeed/gateway"
	"crisisfeed/models"

	"go.uber.org/zap"
)

const maxBody = 1 << 20

// ShowPosts returns every post, newest first.
func (a *API) ShowPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.store.FetchAll(r.Context())
	if err != nil {
		a.log.Error("list_posts_failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Error retrieving posts")
		return
	}
	jsonResponse(w, http.StatusOK, posts)
}

// PostSubmit inserts a post built by the client, including its id.
func (a *API) PostSubmit(w http.ResponseWriter, r *http.Request) {
	var p models.Post
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&p); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if fields, ok := ValidatePost(&p, time.Now()); !ok {
		a.log.Debug("post_rejected", zap.Any("fields", fields))
		jsonResponse(w, http.StatusBadRequest, map[string]any{
			"error":  "Validation error",
			"fields": fields,
		})
		return
	}

	row, err := a.store.Insert(r.Context(), p)
	if errors.Is(err, gateway.ErrConflict) {
		jsonError(w, http.StatusConflict, "Post already exists")
		return
	}
	if err != nil {
		a.log.Error("insert_post_failed", zap.String("post_id", p.ID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to submit post")
		return
	}
	a.log.Info("post_created", zap.String("post_id", row.ID), zap.String("role", string(row.AuthorRole)))
	jsonResponse(w, http.StatusCreated, row)
}

// LikesUpdate replaces a post's like set.
func (a *API) LikesUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Likes *models.Likes `json:"likes"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil || body.Likes == nil {
		jsonError(w, http.StatusBadRequest, "Request needs a likes array")
		return
	}

	if err := a.store.UpdateLikes(r.Context(), id, *body.Likes); err != nil {
		a.writeStoreError(w, "update_likes_failed", id, err)
		return
	}
	a.respondRow(w, r, id)
}

// PostDelete removes a post and everything under it.
func (a *API) PostDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.store.DeleteRow(r.Context(), id); err != nil {
		a.writeStoreError(w, "delete_post_failed", id, err)
		return
	}
	a.log.Info("post_deleted", zap.String("post_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) respondRow(w http.ResponseWriter, r *http.Request, id string) {
	row, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, "read_post_failed", id, err)
		return
	}
	jsonResponse(w, http.StatusOK, row)
}

func (a *API) writeStoreError(w http.ResponseWriter, event, id string, err error) {
	if errors.Is(err, gateway.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "Post ID does not exist")
		return
	}
	a.log.Error(event, zap.String("post_id", id), zap.Error(err))
	jsonError(w, http.StatusInternalServerError, "Internal server error")
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encode_response_failed", zap.Error(err))
	}
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}

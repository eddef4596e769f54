package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/memberman/internal/model"
)

// UserHandler はユーザー管理のHTTPハンドラー。管理者ルート配下で動作する。
type UserHandler struct {
	users SessionUserFinder
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users SessionUserFinder) *UserHandler {
	return &UserHandler{users: users}
}

// GetUser は指定IDのユーザーを取得する。
// GET /api/admin/users/{id}（管理者のみ）
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"data": userResponse{
			ID:         user.ID,
			Email:      user.Email,
			Role:       string(user.Role),
			CustomerID: user.CustomerID,
		},
	})
}

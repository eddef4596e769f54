package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/memberman/internal/model"
)

// ErrorResponseBody は全エンドポイント共通のエラーレスポンス形式。
// codeは機械可読な識別子（AUTH_REQUIRED等）、categoryは原因の分類、
// actionはクライアントに提示できる対処方法。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はmodel.APIErrorを共通フォーマットで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部エラーの共通レスポンスを書き込む。
// 原因の詳細はログ側にのみ残し、レスポンスには一切含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

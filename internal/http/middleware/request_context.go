package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/http/response"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/ctxutil"
)

const (
	headerUserID    = "X-User-ID"
	headerRequestID = "X-Request-Id"
)

// AttachRequestContext resolves the caller identity from the X-User-ID
// header. Authentication happens in front of this service; the value is
// treated as opaque and already verified.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		if userID == "" {
			response.RespondError(c, http.StatusUnauthorized, "missing_user", errors.New("X-User-ID header is required"))
			c.Abort()
			return
		}
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			UserID:    userID,
			RequestID: reqID,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// UserID returns the identity resolved by AttachRequestContext, empty when
// the middleware did not run.
func UserID(c *gin.Context) string {
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
		return rd.UserID
	}
	return ""
}

package response

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/faults"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondFault maps the failure taxonomy onto HTTP. The code field carries
// the kind so clients can branch without parsing messages.
func RespondFault(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case faults.KindValidation:
		status = http.StatusBadRequest
	case faults.KindAuth:
		status = http.StatusUnauthorized
	case faults.KindBudget:
		status = http.StatusPaymentRequired
	case faults.KindRateLimit:
		status = http.StatusTooManyRequests
	case faults.KindTransient:
		status = http.StatusServiceUnavailable
	case faults.KindSchema:
		status = http.StatusBadGateway
	}
	if retryAfter := faults.RetryAfterOf(err); retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: faults.UserMessage(err),
			Code:    string(kind),
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

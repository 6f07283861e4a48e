package response

import (
	"errors"
	"net/http"
	"time"

	"custody-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope. EntryID and EntryStatus are
// set only when a ledger entry was recorded before the failure.
type ErrorResponse struct {
	ErrorCode   string `json:"error_code"`
	Message     string `json:"message"`
	RetrySafe   bool   `json:"retry_safe"`
	EntryID     string `json:"entry_id,omitempty"`
	EntryStatus string `json:"entry_status,omitempty"`
	RequestID   string `json:"request_id"`
	Timestamp   string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: now(),
	})
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: now(),
	})
}

// Error sends an error response. *apperror.AppError maps to its own status;
// a *apperror.RecordedFailure additionally reports the recorded entry and is
// never retry-safe. Anything else is a 500.
func Error(c *gin.Context, err error) {
	body := ErrorResponse{
		ErrorCode: "SYS_000",
		Message:   "Internal server error",
		RetrySafe: apperror.SafeToRetry(err),
		RequestID: getRequestID(c),
		Timestamp: now(),
	}
	status := http.StatusInternalServerError

	var rec *apperror.RecordedFailure
	if errors.As(err, &rec) {
		body.EntryID = rec.EntryID.String()
		body.EntryStatus = rec.Status
		status = http.StatusBadGateway
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		body.ErrorCode = appErr.Code
		body.Message = appErr.Message
		status = appErr.HTTPStatus
	}

	c.JSON(status, body)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// getRequestID retrieves request ID from context, or generates one.
func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}

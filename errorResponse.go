package main

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/gin-gonic/gin"
)

func statusForError(err error) int {
	switch utils.ErrorKind(err) {
	case utils.ErrorValidation:
		return http.StatusBadRequest
	case utils.ErrorRecordNotFound:
		return http.StatusNotFound
	case utils.ErrorInvalidState:
		return http.StatusConflict
	case utils.ErrorConcurrency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Server-side failures are
// attached to the gin context for customErrorLogger and their details hidden.
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())

	message := err.Error()
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	switch status {
	case http.StatusInternalServerError:
		_ = c.Error(err)
		message = "internal server error"
	case http.StatusServiceUnavailable:
		_ = c.Error(err)
		message = "temporarily unavailable, please retry"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": message, "correlation_id": cid})
}

func respondBindError(c *gin.Context, err error) {
	body := gin.H{"error": "invalid request"}
	if fields := utils.ProcessValidationErrors(err); len(fields) > 0 {
		body["fields"] = fields
	} else {
		body["detail"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}

package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"loandesk/services"
	"loandesk/utils"
)

// errorStatus сопоставляет ошибку сервиса с HTTP статусом и типом для метрик
func errorStatus(err error) (int, string) {
	var (
		notFound   *services.NotFoundError
		state      *services.InvalidStateError
		forbidden  *services.ForbiddenError
		external   *services.ExternalServiceError
		validation *services.ValidationError
		conflict   *services.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.As(err, &forbidden):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &state):
		return http.StatusConflict, "invalid_state"
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &external):
		return http.StatusBadGateway, "external_service"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// respondError пишет ошибку в ответ. Внутренние ошибки не раскрываются клиенту.
func respondError(c *gin.Context, metrics *utils.Metrics, err error) {
	status, kind := errorStatus(err)
	metrics.RecordError(kind)

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// badRequest отвечает на неразбираемое тело запроса
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

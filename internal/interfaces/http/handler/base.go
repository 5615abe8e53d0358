package handler

import (
	"errors"
	"net/http"

	"github.com/freightbill/backend/internal/domain/billing"
	"github.com/freightbill/backend/internal/domain/shared"
	"github.com/freightbill/backend/internal/interfaces/http/dto"
	"github.com/freightbill/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BaseHandler provides common response helpers for all handlers
type BaseHandler struct{}

// Success sends a 200 response with data
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a 200 response with data and pagination metadata
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 response with data
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the status derived from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithDetails sends an error response carrying structured details
func (h *BaseHandler) ErrorWithDetails(c *gin.Context, code, message string, details any) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithDetails(code, message, getRequestID(c), details))
}

// BadRequest sends a 400 response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeUnauthorized, message)
}

// InternalError sends a 500 response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeInternal, message)
}

// HandleError maps any error to a transport response. Domain errors carry
// their own codes; everything else is an internal error with the message
// withheld from the client.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	if errors.Is(err, shared.ErrNotFound) {
		h.NotFound(c, "Resource not found")
		return
	}

	var blocked *billing.BlockedError
	if errors.As(err, &blocked) {
		h.ErrorWithDetails(c, blocked.Code(), blocked.Error(), blocked.Blocks)
		return
	}

	var transition *billing.InvalidTransitionError
	if errors.As(err, &transition) {
		h.Error(c, transition.Code(), transition.Error())
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.Error(c, domainErr.Code, domainErr.Message)
		return
	}

	h.InternalError(c, "An internal error occurred")
}

// HandleErrorWithState maps the error like HandleError but carries the
// authoritative aggregate state in the error details, so a caller whose view
// was stale can reconcile without a second read.
func (h *BaseHandler) HandleErrorWithState(c *gin.Context, err error, state any) {
	if err == nil {
		return
	}

	if errors.Is(err, shared.ErrNotFound) {
		h.NotFound(c, "Resource not found")
		return
	}

	code := dto.ErrCodeInternal
	message := "An internal error occurred"

	var blocked *billing.BlockedError
	var transition *billing.InvalidTransitionError
	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &blocked):
		code, message = blocked.Code(), blocked.Error()
	case errors.As(err, &transition):
		code, message = transition.Code(), transition.Error()
	case errors.As(err, &domainErr):
		code, message = domainErr.Code, domainErr.Message
	}

	h.ErrorWithDetails(c, code, message, state)
}

// getRequestID retrieves the request ID from the gin context
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(middleware.RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// getOrgID resolves the caller's organization from JWT claims, falling back
// to the X-Org-ID header for unauthenticated deployments behind a gateway.
func getOrgID(c *gin.Context) (uuid.UUID, error) {
	raw := middleware.GetJWTOrgID(c)
	if raw == "" {
		raw = c.GetHeader("X-Org-ID")
	}
	if raw == "" {
		return uuid.Nil, errors.New("missing organization scope")
	}
	return uuid.Parse(raw)
}

// getActor resolves the acting user for audit history entries
func getActor(c *gin.Context) string {
	if username := middleware.GetJWTUsername(c); username != "" {
		return username
	}
	if userID := middleware.GetJWTUserID(c); userID != "" {
		return userID
	}
	return "anonymous"
}

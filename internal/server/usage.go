package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
)

// RecordUsage appends one attempt to the ledger. The body's request_id is the
// idempotency token; when the caller omits it the correlation id from the
// X-Request-ID header stands in, so plain retries of the same request stay
// single-counted.
func (s *Server) RecordUsage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req usagedomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	req.UserID = user.ID
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = requestID(c)
	}

	result, err := s.usagesvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) MyUsage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	info, err := s.usagesvc.UsageInfo(c.Request.Context(), user)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// CheckQuota answers whether the user may perform one more action today.
// A denial is a successful check, not an error: allowed=false plus the
// user-facing message.
func (s *Server) CheckQuota(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var (
		allowed bool
		message string
		err     error
	)
	switch usagedomain.Action(c.Query("action")) {
	case usagedomain.ActionChat:
		allowed, message, err = s.usagesvc.CheckChatLimit(c.Request.Context(), user)
	case usagedomain.ActionImage:
		allowed, message, err = s.usagesvc.CheckImageLimit(c.Request.Context(), user)
	default:
		AbortWithError(c, newValidationError("action", "invalid_action", "action must be chat or image"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed": allowed,
		"message": message,
	})
}

package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	identitydomain "github.com/lumachat/ledger/internal/identity/domain"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"

	contextUserKey = "current_user"
)

// RequestID propagates the caller's correlation id, minting one when the
// header is absent. The recorder also accepts it as the idempotency token.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}

// IdentityRequired resolves the authenticated user from the gateway-supplied
// user header. The platform gateway terminates authentication upstream; this
// service only needs the resolved identity row.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var user identitydomain.User
		err = s.db.WithContext(c.Request.Context()).
			Where("id = ? AND is_active = ?", userID, true).
			First(&user).Error
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok || !user.IsAdmin() {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (identitydomain.User, bool) {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return identitydomain.User{}, false
	}
	user, ok := value.(identitydomain.User)
	return user, ok
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}

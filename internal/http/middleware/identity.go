// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity. Authentication is delegated to the
// gateway in front of this service, which forwards the player ID in X-User-ID.
// Admin endpoints are guarded by a shared token in X-Admin-Token.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the player identifier.
	HeaderUserID = "X-User-ID"
	// HeaderAdminToken carries the admin shared secret.
	HeaderAdminToken = "X-Admin-Token"

	userIDKey = "userID"
)

var userIDRE = regexp.MustCompile(`^[A-Za-z0-9._:@\-]{1,64}$`)

// Identity stores a well-formed X-User-ID under the "userID" context key.
// Requests without the header pass through anonymously; malformed values are
// rejected with 400.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" {
			c.Next()
			return
		}
		if !userIDRE.MatchString(uid) {
			abortJSON(c, http.StatusBadRequest, "bad_request", "invalid X-User-ID")
			return
		}
		c.Set(userIDKey, uid)
		withUserID(c, uid)
		c.Next()
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "X-User-ID header required")
			return
		}
		c.Next()
	}
}

// AdminAuth compares X-Admin-Token against token in constant time.
// An empty token locks the admin API entirely.
func AdminAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderAdminToken))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		c.Next()
	}
}

// UserID returns the identity stored by Identity, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// abortJSON writes the standard error envelope.
func abortJSON(c *gin.Context, status int, code, msg string) {
	SetErrorCode(c, code)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}

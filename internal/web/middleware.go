package web

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BasicAuth guards every route with the configured credentials.
// Preflight requests pass through unauthenticated so browsers can
// negotiate CORS before credentials are attached.
func BasicAuth(username, password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		user, pass, ok := c.Request.BasicAuth()
		if !ok || !credentialsMatch(user, pass, username, password) {
			c.Header("WWW-Authenticate", `Basic realm="QA Test Suite"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Code:    http.StatusUnauthorized,
				Message: "valid credentials are required",
			})
			return
		}
		c.Next()
	}
}

// credentialsMatch compares both fields in constant time.
func credentialsMatch(gotUser, gotPass, wantUser, wantPass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(wantUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(gotPass), []byte(wantPass)) == 1
	return userOK && passOK
}

// CORSMiddleware allows cross-origin calls from browser-driven QA runners.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "findout_session"

	sessionCookieMaxAge = 30 * 24 * 3600
)

// sessionIDFrom 依次从请求头和 Cookie 中读取会话 ID
func sessionIDFrom(c *gin.Context) string {
	if id := c.GetHeader(SessionHeader); id != "" {
		return id
	}
	if id, err := c.Cookie(SessionCookie); err == nil {
		return id
	}
	return ""
}

func setSessionCookie(c *gin.Context, sessionID string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, sessionID, sessionCookieMaxAge, "/", "", false, true)
	c.Header(SessionHeader, sessionID)
}

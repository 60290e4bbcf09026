package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to ConnectionManager.
func (s *Server) wsHandler(c *gin.Context) {
	if s.connManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WebSocket not available"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.resolveWSOriginPatterns(),
	})
	if err != nil {
		return
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request.Context(), conn)
}

// resolveWSOriginPatterns returns the set of origin host patterns accepted
// for WebSocket upgrades: localhost (any port, for local dev) plus any
// operator-configured patterns.
func (s *Server) resolveWSOriginPatterns() []string {
	patterns := []string{"localhost:*", "127.0.0.1:*"}
	if s.cfg != nil && s.cfg.Server != nil {
		patterns = append(patterns, s.cfg.Server.AllowedWSOrigins...)
	}
	return patterns
}

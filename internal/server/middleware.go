package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// Latency delays every request by a fixed duration before any resolution
// logic runs. Pure timing insertion for simulating slow backends.
func Latency(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		time.Sleep(d)
		c.Next()
	}
}

// CORS wraps a handler with cross-origin policy for the configured origin
// whitelist.
func CORS(whitelist []string) func(http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: whitelist,
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "User-Agent", "Authorization"},
	})
	return middleware.Handler
}

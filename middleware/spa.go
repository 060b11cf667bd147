package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const spaIndex = "/index.html"

// SPARewrite returns the path the request should be served from. Client-side
// routes (no /api/ prefix, no file extension, not the root) map to the app
// shell; everything else passes through unchanged.
func SPARewrite(path string) (string, bool) {
	if path == "/" || strings.HasPrefix(path, "/api/") || strings.Contains(path, ".") {
		return path, false
	}
	return spaIndex, true
}

// SPAFallback rewrites client-side routes to /index.html and re-dispatches
// them through engine, whatever the method. Headers and query are kept; a
// method other than GET or HEAD becomes GET because the answer is always the
// app shell. Install it with NoRoute so registered routes such as /health are
// never rewritten.
func SPAFallback(engine *gin.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, rewritten := SPARewrite(c.Request.URL.Path)
		if !rewritten {
			c.Next()
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Request.Method = http.MethodGet
		}
		c.Request.URL.Path = target
		c.Request.URL.RawPath = ""
		engine.HandleContext(c)
		c.Abort()
	}
}

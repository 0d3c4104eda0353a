package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// parseWait reads an optional duration query value. Bare "true"/"1" mean
// maxWait; anything unparsable means no wait.
func parseWait(s string, maxWait time.Duration) time.Duration {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no":
		return 0
	case "1", "true", "yes":
		return maxWait
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

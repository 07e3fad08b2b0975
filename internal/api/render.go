package api

import (
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

// respondJSON writes payload as JSON using bytedance/sonic rather than
// gin's default encoding/json-backed c.JSON, matching the teacher's
// choice of sonic for hot response paths.
func respondJSON(c *gin.Context, status int, payload gin.H) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		c.Status(500)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

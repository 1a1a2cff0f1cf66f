package api

import (
	"net/http"
	"strconv"

	"WSChat/config"
	"WSChat/service/chat"

	"github.com/gin-gonic/gin"
)

// NewRouter 管理 REST 接口：统计与在线查询。
// auth 复用聊天侧的认证策略（restApi.auth 配置）。
func NewRouter(s *chat.Server, settings config.RestAPISettings) *gin.Engine {
	auth := chat.NewAuthenticator(settings.Auth)

	r := gin.New()
	r.Use(gin.Recovery())

	grp := r.Group("/api")
	if auth.Type() != "noauth" {
		grp.Use(func(c *gin.Context) {
			if !auth.Validate(chat.NewRequest(c.Request)) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.Next()
		})
	}

	grp.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Stats().Snapshot())
	})

	grp.GET("/stats/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		uid := chat.UserID(id)
		if !s.Stats().Has(uid) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
			return
		}
		c.JSON(http.StatusOK, s.Stats().Get(uid).Snapshot())
	})

	grp.GET("/online/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		uid := chat.UserID(id)
		c.JSON(http.StatusOK, gin.H{
			"userId":      uid,
			"online":      s.IsOnline(uid),
			"connections": s.Storage().Size(uid),
		})
	})

	return r
}

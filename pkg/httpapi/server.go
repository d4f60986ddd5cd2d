// Package httpapi exposes the engine to the language-understanding service
// and to account management: action intake, family links and user profiles.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smith3v/family-reminders/pkg/actions"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/store"
)

const (
	minOffsetSeconds = -12 * 3600
	maxOffsetSeconds = 14 * 3600
	maxActions       = 50
)

type Server struct {
	store     *store.Store
	processor *actions.Processor
}

func New(st *store.Store, processor *actions.Processor) *Server {
	return &Server{store: st, processor: processor}
}

// Router builds the gin engine serving the API.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", s.health)

	v1 := router.Group("/v1")
	v1.POST("/actions", s.applyActions)
	v1.POST("/family/links", s.linkFamily)
	v1.DELETE("/family/links", s.unlinkFamily)
	v1.GET("/users/:user_id/family", s.listFamily)
	v1.PUT("/users/:user_id/profile", s.putProfile)
	v1.GET("/users/:user_id/profile", s.getProfile)
	return router
}

// handleError logs err and answers with a generic message.
func handleError(c *gin.Context, status int, message string, err error) {
	logger.Error(message, "path", c.FullPath(), "error", err)
	c.JSON(status, gin.H{"error": message})
}

func (s *Server) health(c *gin.Context) {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		handleError(c, http.StatusServiceUnavailable, "database unavailable", err)
		return
	}
	c.String(http.StatusOK, "OK")
}

type actionsRequest struct {
	UserID  string            `json:"user_id" binding:"required"`
	Actions []json.RawMessage `json:"actions" binding:"required"`
}

type actionsResponse struct {
	Results []actions.Result `json:"results"`
}

func (s *Server) applyActions(c *gin.Context) {
	var req actionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Actions) > maxActions {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many actions"})
		return
	}

	results, err := s.processor.ApplyJSON(c.Request.Context(), strings.TrimSpace(req.UserID), req.Actions)
	if err != nil {
		// The changes are stored; only their notifications were lost.
		logger.Error("failed to queue action notifications", "user_id", req.UserID, "error", err)
	}
	c.JSON(http.StatusOK, actionsResponse{Results: results})
}

type familyLinkRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	OtherUserID string `json:"other_user_id" binding:"required"`
}

func (s *Server) linkFamily(c *gin.Context) {
	var req familyLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.store.LinkFamily(c.Request.Context(), req.UserID, req.OtherUserID)
	if errors.Is(err, store.ErrSelfRelation) || errors.Is(err, store.ErrEmptyOwner) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		handleError(c, http.StatusInternalServerError, "failed to link family members", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) unlinkFamily(c *gin.Context) {
	var req familyLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UnlinkFamily(c.Request.Context(), req.UserID, req.OtherUserID); err != nil {
		handleError(c, http.StatusInternalServerError, "failed to unlink family members", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listFamily(c *gin.Context) {
	members, err := s.store.FamilyOf(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		handleError(c, http.StatusInternalServerError, "failed to list family members", err)
		return
	}
	if members == nil {
		members = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type profileRequest struct {
	TimezoneOffsetSeconds int     `json:"timezone_offset_seconds"`
	TelegramChatID        *int64  `json:"telegram_chat_id"`
	WhatsAppID            *string `json:"whatsapp_id"`
	Email                 *string `json:"email"`
}

type profileResponse struct {
	UserID                string  `json:"user_id"`
	TimezoneOffsetSeconds int     `json:"timezone_offset_seconds"`
	TelegramChatID        *int64  `json:"telegram_chat_id,omitempty"`
	WhatsAppID            *string `json:"whatsapp_id,omitempty"`
	Email                 *string `json:"email,omitempty"`
}

func toProfileResponse(p db.UserProfile) profileResponse {
	return profileResponse{
		UserID:                p.UserID,
		TimezoneOffsetSeconds: p.TimezoneOffsetSeconds,
		TelegramChatID:        p.TelegramChatID,
		WhatsAppID:            p.WhatsAppID,
		Email:                 p.Email,
	}
}

func (s *Server) putProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TimezoneOffsetSeconds < minOffsetSeconds || req.TimezoneOffsetSeconds > maxOffsetSeconds {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timezone_offset_seconds out of range"})
		return
	}

	profile := db.UserProfile{
		UserID:                c.Param("user_id"),
		TimezoneOffsetSeconds: req.TimezoneOffsetSeconds,
		TelegramChatID:        req.TelegramChatID,
		WhatsAppID:            req.WhatsAppID,
		Email:                 req.Email,
	}
	if err := s.store.UpsertProfile(c.Request.Context(), profile); err != nil {
		handleError(c, http.StatusInternalServerError, "failed to save profile", err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

func (s *Server) getProfile(c *gin.Context) {
	profile, err := s.store.GetProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		handleError(c, http.StatusInternalServerError, "failed to load profile", err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

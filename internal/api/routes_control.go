package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/bridge"
	"github.com/rustpanel-project/rustpanel/internal/monitor"
	"github.com/rustpanel-project/rustpanel/internal/rpc"
)

type connectRequest struct {
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Save     bool   `json:"save"`
}

// handleConnect opens a bridge connection to the given server.
func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Port == 0 {
		req.Port = bridge.DefaultPort
	}
	if req.Port < 1 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "port must be between 1 and 65535"})
		return
	}

	log.Info().Str("host", req.Host).Int("port", req.Port).Msg("API: connect requested")

	if err := s.monitor.Connect(c.Request.Context(), req.Host, req.Port, req.Password, req.Save); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.monitor.Status())
}

// handleDisconnect closes the bridge connection. Disconnecting while
// already disconnected is not an error.
func (s *Server) handleDisconnect(c *gin.Context) {
	s.monitor.Disconnect()
	c.JSON(http.StatusOK, gin.H{"message": "disconnected"})
}

type consoleRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) handleConsole(c *gin.Context) {
	var req consoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	log.Info().Str("command", req.Command).Msg("API: console command")
	if err := s.monitor.Console(c.Request.Context(), req.Command); err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "command sent"})
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	if err := s.monitor.Chat(c.Request.Context(), req.Message); err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "chat sent"})
}

// handleSendRPC sends an argument-less request by operation name, for
// example /api/rpc/Plugins.
func (s *Server) handleSendRPC(c *gin.Context) {
	name := c.Param("name")
	frame, ok := rpc.SimpleRequest(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or parameterised operation: " + name})
		return
	}

	if err := s.monitor.Send(c.Request.Context(), frame); err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "request sent", "rpc": name})
}

func (s *Server) sendError(c *gin.Context, err error) {
	if errors.Is(err, monitor.ErrNotConnected) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

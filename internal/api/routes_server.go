package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rustpanel-project/rustpanel/internal/events"
)

// handleGetStatus returns connection state and the latest server info.
func (s *Server) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Status())
}

// handleGetMap returns map metadata and monuments. The image is served by
// handleGetMapImage.
func (s *Server) handleGetMap(c *gin.Context) {
	info, ok := s.monitor.MapInfo()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "map info not received yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"world_size":   info.WorldSize,
		"image_width":  info.ImageWidth,
		"image_height": info.ImageHeight,
		"has_image":    len(info.Image) > 0,
		"monuments":    info.Monuments,
	})
}

func (s *Server) handleGetMapImage(c *gin.Context) {
	info, ok := s.monitor.MapInfo()
	if !ok || len(info.Image) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no map image"})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(info.Image), info.Image)
}

// handleGetEntities returns the latest entity snapshot, optionally filtered
// by ?type=cargo_ship.
func (s *Server) handleGetEntities(c *gin.Context) {
	list := s.monitor.Entities()

	if kind := c.Query("type"); kind != "" {
		filtered := make([]events.MapEntity, 0, len(list))
		for _, e := range list {
			if e.Type.String() == kind {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"entities": list,
		"total":    len(list),
	})
}

// handleGetPlayers returns tracked players. ?online=true drops sleepers.
func (s *Server) handleGetPlayers(c *gin.Context) {
	players := s.monitor.Players()

	onlineOnly, _ := strconv.ParseBool(c.DefaultQuery("online", "false"))
	online := 0
	filtered := make([]events.Player, 0, len(players))
	for _, p := range players {
		if p.Online {
			online++
		}
		if onlineOnly && !p.Online {
			continue
		}
		filtered = append(filtered, p)
	}

	c.JSON(http.StatusOK, gin.H{
		"players": filtered,
		"total":   len(players),
		"online":  online,
	})
}

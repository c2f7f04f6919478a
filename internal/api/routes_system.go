package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rustpanel-project/rustpanel/internal/protocol"
	"github.com/rustpanel-project/rustpanel/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
	})
}

// handleGetSystem returns host information and live resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	dataDir := filepath.Dir(s.cfg.GetDatabase().Path)
	c.JSON(http.StatusOK, gin.H{
		"system":  util.GetSystemInfo(),
		"usage":   util.CollectHostStats(dataDir),
		"version": s.version,
	})
}

type rpcEntry struct {
	Name string `json:"name"`
	ID   uint32 `json:"id"`
	Hex  string `json:"hex"`
}

// handleGetRPCTable lists every known operation with its wire identifier.
func (s *Server) handleGetRPCTable(c *gin.Context) {
	names := protocol.Names()
	table := make([]rpcEntry, 0, len(names))
	for _, name := range names {
		id := protocol.RPCID(name)
		table = append(table, rpcEntry{Name: name, ID: id, Hex: fmt.Sprintf("0x%08X", id)})
	}
	c.JSON(http.StatusOK, gin.H{"rpcs": table})
}

// handleGetConfig returns the running configuration with secrets removed.
func (s *Server) handleGetConfig(c *gin.Context) {
	bridgeCfg := s.cfg.GetBridge()
	bridgeCfg.Password = ""
	apiCfg := s.cfg.GetAPI()
	apiCfg.Token = ""
	mqttCfg := s.cfg.GetMQTT()
	mqttCfg.Password = ""

	c.JSON(http.StatusOK, gin.H{
		"bridge":   bridgeCfg,
		"polling":  s.cfg.GetPolling(),
		"logging":  s.cfg.GetLogging(),
		"api":      apiCfg,
		"mqtt":     mqttCfg,
		"database": s.cfg.GetDatabase(),
	})
}

// handleGetHistory returns recorded status samples, newest last.
// Query: hours (default 24), limit (default 500, max 5000).
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history database is disabled"})
		return
	}

	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours < 1 {
		hours = 24
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit < 1 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	samples, err := s.store.History(c.Request.Context(), since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"samples": samples,
		"count":   len(samples),
		"since":   since.UTC(),
	})
}

func (s *Server) handleGetServers(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history database is disabled"})
		return
	}

	servers, err := s.store.ListServers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"servers": servers,
		"total":   len(servers),
	})
}

func (s *Server) handleDeleteServer(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history database is disabled"})
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}

	if err := s.store.DeleteServer(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "server removed", "id": id})
}

// handleGetLogEntries returns the last ?count= lines of the log file.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	path := filepath.Join(s.cfg.GetLogging().Directory, util.LogFileName)
	entries, err := readRecentLogEntries(path, count)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"entries": []logEntry{}, "count": 0})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is one parsed JSON log line.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var reservedLogKeys = map[string]bool{
	"level": true, "time": true, "message": true,
	"caller": true, "app": true, "component": true,
}

// readRecentLogEntries keeps the last count lines of path. Lines that are
// not JSON are returned as bare messages.
func readRecentLogEntries(path string, count int) ([]logEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, count)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(ring) == count {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	result := make([]logEntry, 0, len(ring))
	for _, line := range ring {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Timestamp: stringFromMap(raw, "time"),
			Level:     stringFromMap(raw, "level"),
			Component: stringFromMap(raw, "component"),
			Message:   stringFromMap(raw, "message"),
		}
		for k, v := range raw {
			if reservedLogKeys[k] {
				continue
			}
			if entry.Fields == nil {
				entry.Fields = make(map[string]interface{})
			}
			entry.Fields[k] = v
		}
		result = append(result, entry)
	}

	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

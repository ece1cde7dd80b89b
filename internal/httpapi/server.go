// Package httpapi is the daemon's HTTP surface: the scan adapter (a
// replaceable stand-in for the card-reader driver), the operator admin
// API, and health/metrics.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tamtap/internal/auth"
	"tamtap/internal/config"
	"tamtap/internal/machine"
	"tamtap/internal/model"
	"tamtap/internal/records"
	"tamtap/internal/syncer"
)

// Server bundles the handlers' dependencies.
type Server struct {
	cfg     config.App
	store   *records.Store
	machine *machine.Machine
	sup     *syncer.Supervisor
	clockFn func() string // today's civil date, for the attendance default
	log     *zap.Logger
}

// NewServer builds the handler set.
func NewServer(cfg config.App, store *records.Store, m *machine.Machine, sup *syncer.Supervisor, today func() string, log *zap.Logger) *Server {
	return &Server{cfg: cfg, store: store, machine: m, sup: sup, clockFn: today, log: log}
}

// Router assembles the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	// The scan source is an adapter like the card reader itself; kiosks
	// without a wired reader POST badge keys here.
	r.POST("/v1/scan", s.scan)

	r.POST("/v1/devices/register", s.registerDevice)

	admin := r.Group("/v1", auth.RequireToken(s.cfg.JWTSigningKey, s.cfg.JWTIssuer))
	admin.POST("/identities", s.registerIdentity)
	admin.GET("/identities", s.listIdentities)
	admin.DELETE("/identities/:badge_key", s.deleteIdentity)
	admin.GET("/attendance", s.listAttendance)
	admin.POST("/sync", s.forceSync)
	admin.GET("/status", s.status)

	return r
}

func (s *Server) health(c *gin.Context) {
	st := s.store.Status()
	// The appliance is healthy even with the remote down; that is the
	// point of the local cache.
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"remote":    st.Connected,
		"state":     st.State,
		"pending":   st.Pending,
		"last_sync": st.LastSyncAt,
	})
}

func (s *Server) scan(c *gin.Context) {
	var req struct {
		BadgeKey string `json:"badge_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome := s.machine.Scan(c.Request.Context(), req.BadgeKey)
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := auth.Issue(req.DeviceID, "device", s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) registerIdentity(c *gin.Context) {
	var req struct {
		BadgeKey    string `json:"badge_key" binding:"required"`
		Role        string `json:"role" binding:"required"`
		DisplayName string `json:"display_name" binding:"required"`
		Group       string `json:"group"`
		SequenceID  string `json:"sequence_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.store.Register(c.Request.Context(), model.Identity{
		BadgeKey:    req.BadgeKey,
		SequenceID:  req.SequenceID,
		Role:        model.Role(req.Role),
		DisplayName: req.DisplayName,
		Group:       req.Group,
	})
	if err != nil {
		if errors.Is(err, records.ErrDuplicateKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "badge key or sequence id already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, id)
}

func (s *Server) listIdentities(c *gin.Context) {
	ids := s.store.ListIdentities(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"identities": ids})
}

func (s *Server) deleteIdentity(c *gin.Context) {
	role, found := s.store.Delete(c.Request.Context(), c.Param("badge_key"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown badge key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "role": role})
}

func (s *Server) listAttendance(c *gin.Context) {
	day := c.Query("date")
	if day == "" {
		day = s.clockFn()
	}
	events := s.store.ListAttendance(c.Request.Context(), day)
	c.JSON(http.StatusOK, gin.H{"date": day, "events": events})
}

func (s *Server) forceSync(c *gin.Context) {
	if err := s.sup.ForceSync(c.Request.Context()); err != nil {
		if errors.Is(err, syncer.ErrDisconnected) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote unreachable"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.store.Status())
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Status())
}

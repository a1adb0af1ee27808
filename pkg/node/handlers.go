package node

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ryandielhenn/zephyrchat/internal/telemetry"
	"github.com/ryandielhenn/zephyrchat/pkg/gossip"
)

// AdminRouter exposes the node's state over HTTP.
func (n *Node) AdminRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", telemetry.Instrument("healthz"), n.Healthz)
	r.GET("/info", telemetry.Instrument("info"), n.Info)
	r.GET("/peers", telemetry.Instrument("peers"), n.Peers)
	r.GET("/connection", telemetry.Instrument("connection"), n.ConnectionInfo)
	r.GET("/history", telemetry.Instrument("history"), n.HistoryLines)
	r.POST("/connect", telemetry.Instrument("connect"), n.ConnectTo)
	r.POST("/say", telemetry.Instrument("say"), n.SayText)
	r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return r
}

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Info writes the process ID, current time, identity and protocol state.
func (n *Node) Info(c *gin.Context) {
	type resp struct {
		PID     int       `json:"pid"`
		Now     time.Time `json:"now"`
		Name    string    `json:"name"`
		Addr    string    `json:"addr"`
		State   string    `json:"state"`
		Members int       `json:"members"`
	}
	c.JSON(http.StatusOK, resp{
		PID:     os.Getpid(),
		Now:     n.now(),
		Name:    n.name,
		Addr:    n.Addr().String(),
		State:   n.State().String(),
		Members: n.members.Len(),
	})
}

type peerView struct {
	gossip.Endpoint
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Peers lists the local membership view in insertion order.
func (n *Node) Peers(c *gin.Context) {
	members := n.members.All()
	out := make([]peerView, 0, len(members))
	for _, e := range members {
		v := peerView{Endpoint: e}
		if t, ok := n.seen.LastSeen(e.Name); ok {
			v.LastSeen = &t
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// ConnectionInfo returns the active chat peer or 404.
func (n *Node) ConnectionInfo(c *gin.Context) {
	e, ok := n.members.Connection()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotConnected.Error()})
		return
	}
	c.JSON(http.StatusOK, e)
}

// HistoryLines returns the last ?n= chat lines, oldest first.
func (n *Node) HistoryLines(c *gin.Context) {
	limit := 50
	if v := c.Query("n"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		limit = i
	}
	c.JSON(http.StatusOK, n.hist.Recent(limit))
}

// ConnectTo starts a handshake with {"name": "..."}.
func (n *Node) ConnectTo(c *gin.Context) {
	var req gossip.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := n.Connect(c.Request.Context(), req.Name); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, ErrInvalidTarget):
			status = http.StatusBadRequest
		case errors.Is(err, ErrNoRendezvous):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// SayText sends {"text": "..."} to the current connection.
func (n *Node) SayText(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := n.Say(c.Request.Context(), req.Text); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrNotConnected) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

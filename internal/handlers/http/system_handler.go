// Package http holds the small REST surface named by §6: /health and
// /turn-credentials. The conferencing protocol itself never touches this
// package — it rides the websocket upgrade handled directly by
// internal/signaling.
package http

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"confsfu/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// RoomCounter reports how many rooms are currently live, satisfied by
// *room.Registry. Kept as a narrow interface so this handler doesn't
// import the room package just to read one number.
type RoomCounter interface {
	Count() int
}

// SystemHandler serves the operational endpoints of C10: health and TURN
// credential issuance. Grounded on the teacher's handler package shape
// (struct + NewXHandler + SetupRoutes), with stream/auth concerns
// replaced by the two REST endpoints this service actually exposes.
type SystemHandler struct {
	rooms      RoomCounter
	health     *monitoring.HealthChecker
	numWorkers int
	startedAt  time.Time
	turnSecret string
	turnServer string
}

func NewSystemHandler(rooms RoomCounter, health *monitoring.HealthChecker, numWorkers int, turnSecret, turnServerURL string) *SystemHandler {
	return &SystemHandler{
		rooms:      rooms,
		health:     health,
		numWorkers: numWorkers,
		startedAt:  time.Now(),
		turnSecret: turnSecret,
		turnServer: turnServerURL,
	}
}

func (h *SystemHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/turn-credentials", h.TurnCredentials)
}

// Health reports {status, rooms, workers, uptime} per §6. status reflects
// the registered readiness checks (DB, and Redis when configured) rather
// than a hardcoded value, so a load balancer can actually use this to
// pull an unhealthy instance out of rotation.
func (h *SystemHandler) Health(c *gin.Context) {
	status := "healthy"
	if h.health != nil && !h.health.IsReady(c.Request.Context()) {
		status = "unhealthy"
	}
	code := 200
	if status != "healthy" {
		code = 503
	}
	c.JSON(code, gin.H{
		"status":  status,
		"rooms":   h.rooms.Count(),
		"workers": h.numWorkers,
		"uptime":  time.Since(h.startedAt).String(),
	})
}

// TurnCredentials issues a 24-hour HMAC-SHA1 credential of the shape
// REST clients hand to the TURN server as a short-lived username/password
// pair: username = "<unix_now+86400>:meetuser",
// credential = base64(HMAC-SHA1(username, TURN_SECRET)).
func (h *SystemHandler) TurnCredentials(c *gin.Context) {
	username := fmt.Sprintf("%d:meetuser", time.Now().Add(24*time.Hour).Unix())

	mac := hmac.New(sha1.New, []byte(h.turnSecret))
	mac.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	urls := []string{"stun:stun.l.google.com:19302"}
	if h.turnServer != "" {
		urls = append(urls, h.turnServer)
	}

	c.JSON(200, gin.H{
		"urls":       urls,
		"username":   username,
		"credential": credential,
	})
}

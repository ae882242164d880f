package feed

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP connections to capacity feed subscriptions.
type Server struct {
	hub          *Hub
	logger       *zap.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(hub *Hub, pingInterval, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		hub:          hub,
		logger:       logger,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for the /ws/capacity endpoint. The optional
// facility_id query parameter narrows the subscription.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	var facilityID int64
	if raw := r.URL.Query().Get("facility_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "facility_id must be a positive integer", http.StatusBadRequest)
			return
		}
		facilityID = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connection := NewConnection(uuid.NewString(), facilityID, conn, s.pingInterval, s.writeTimeout, s.logger, s.hub.Remove)
	s.hub.Add(connection)

	go connection.Start()
	s.logger.Info("capacity subscriber connected",
		zap.String("conn_id", connection.ID()),
		zap.Int64("facility_id", facilityID),
	)
}

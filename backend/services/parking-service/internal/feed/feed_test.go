package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/capacity" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscriberReceivesOwnFacility(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ws := NewServer(hub, time.Second, time.Second, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(ws.HandleWS))
	defer srv.Close()

	watcher := dial(t, srv, "?facility_id=7")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(models.Capacity{FacilityID: 8, VehicleType: models.VehicleCar, WalkInAvailable: 1})
	hub.Broadcast(models.Capacity{FacilityID: 7, VehicleType: models.VehicleCar, WalkInAvailable: 3})

	_ = watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := watcher.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "capacity", msg.Type)
	assert.Equal(t, int64(7), msg.Capacity.FacilityID)
	assert.Equal(t, 3, msg.Capacity.WalkInAvailable)
}

func TestRejectsBadFacility(t *testing.T) {
	ws := NewServer(NewHub(zap.NewNop()), 0, 0, zap.NewNop())
	rec := httptest.NewRecorder()
	ws.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/ws/capacity?facility_id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunClosesConnections(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ws := NewServer(hub, time.Second, time.Second, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(ws.HandleWS))
	defer srv.Close()

	dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Equal(t, 0, hub.Count())
}

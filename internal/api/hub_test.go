package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/core"
)

func setupHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(zap.NewNop())
	hub.Start()
	t.Cleanup(hub.Stop)

	router := gin.New()
	router.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func TestHubBroadcastsJobEvents(t *testing.T) {
	hub, conn := setupHub(t)

	// Registration races the dial, keep publishing until a frame arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.JobEvent(core.EventJobQueued, &core.Job{ID: "j1", Title: "Receipt"})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if ev.Type != string(core.EventJobQueued) {
		t.Errorf("event type = %s, want %s", ev.Type, core.EventJobQueued)
	}
}

func TestHubInterleavesPingsWithData(t *testing.T) {
	prev := pingInterval
	pingInterval = 10 * time.Millisecond
	defer func() { pingInterval = prev }()

	hub, conn := setupHub(t)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(appData string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})

	// Flood data frames while pings fire on the same connection; the write
	// pump is the single writer, so the stream must stay intact.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.PrinterEvent(true)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 100; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("stream broke after %d frames: %v", i, err)
		}
	}
	select {
	case <-pinged:
	default:
		t.Error("no ping received while streaming data")
	}
}

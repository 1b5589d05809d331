package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/store"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// wsInbound is a client -> server frame.
type wsInbound struct {
	Type    string `json:"type"`
	VideoID int64  `json:"video_id,omitempty"`
}

// ProgressSocket subscribes a client to the progress bus. The path token
// identifies the user; token verification itself belongs to the external
// auth collaborator.
func (d *HandlersCollection) ProgressSocket() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		userID, err := strconv.ParseInt(ps.ByName("token"), 10, 64)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.LogNoTaskID("websocket upgrade failed", "err", err)
			return
		}

		frames, cancel := d.Bus.Subscribe(userID)
		defer cancel()
		defer conn.Close()

		// writer: bus frames plus keepalive pings
		done := make(chan struct{})
		quit := make(chan struct{})
		go func() {
			defer close(done)
			ticker := time.NewTicker(wsPingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-quit:
					return
				case frame, ok := <-frames:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					if err := conn.WriteJSON(frame); err != nil {
						return
					}
				case <-ticker.C:
					_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		// reader: subscribe/ping/request_status_update
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

			var msg wsInbound
			if err := json.Unmarshal(raw, &msg); err != nil {
				d.writeWSError(conn, "unparseable message")
				continue
			}

			switch msg.Type {
			case "ping":
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteJSON(map[string]string{"type": "pong"})
			case "subscribe", "request_status_update":
				if msg.VideoID == 0 {
					d.writeWSError(conn, "video_id is required")
					continue
				}
				d.pushCurrentStatus(req, userID, msg.VideoID)
			default:
				d.writeWSError(conn, "unknown message type")
			}
		}

		// stop the writer; queued frames for this client are discarded with
		// the subscription
		close(quit)
		<-done
	}
}

func (d *HandlersCollection) writeWSError(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteJSON(map[string]string{"type": "error", "message": message})
}

// pushCurrentStatus routes a snapshot through the bus so the per-lane
// coalescing rules apply to explicit refresh requests too.
func (d *HandlersCollection) pushCurrentStatus(req *http.Request, userID, videoID int64) {
	status, err := d.Store.GetProcessingStatus(req.Context(), d.Store.DB, videoID)
	if err != nil {
		status = store.ProcessingStatus{VideoID: videoID, OverallStatus: store.TaskPending}
	}
	d.Bus.NotifyProgress(userID, videoID, status, false)
}

package realtime

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/tools/errs"
	"github.com/itellico/mono-sub017/tools/ids"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const maxFrameSize = 1 << 20 // 1MB

// HandleWS accepts a transport connection, runs the authentication
// handshake and serves the connection until the transport closes. The
// credential must verify within the handshake timeout; otherwise the
// transport is closed and no connection object is created. The gateway
// never retries on the client's behalf.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	token := bearerToken(c.Request)
	hctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.HandshakeTimeout)
	sess, verr := s.verifier.Verify(hctx, token)
	cancel()
	if verr != nil || sess == nil {
		logger.Infof("[ws] handshake rejected remote=%s: %v", c.ClientIP(), verr)
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errs.ErrAuthFailed.Msg)
		_ = ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	client := NewClient(ids.GenerateString(), sess.UserID, sess.TenantID, ws, s.cfg.SendQueueSize)
	client.Meta["ip"] = c.ClientIP()
	client.Meta["ua"] = c.Request.UserAgent()

	ctx := context.Background()
	s.register(ctx, client)
	logger.Infof("[ws] connected conn=%s user=%s tenant=%s", client.ConnID, client.UserID, client.TenantID)

	go s.writePump(client)
	s.readPump(ctx, client)

	s.teardown(ctx, client, true)
	logger.Infof("[ws] closed conn=%s user=%s", client.ConnID, client.UserID)
}

// heartbeat refreshes a live connection's activity state: the in-memory
// timestamp plus the stored presence record's TTL. The ping cadence is well
// under the presence TTL, so an idle-but-connected client never lapses to
// implicit offline.
func (s *Server) heartbeat(ctx context.Context, client *Client) {
	client.Touch()
	s.presence.Touch(ctx, client.UserID)
}

// readPump owns all reads on the socket. It exits on any read error; the
// write pump notices via the client's closed channel during teardown.
func (s *Server) readPump(ctx context.Context, client *Client) {
	ws := client.WS
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.StaleTimeout))
	ws.SetPongHandler(func(string) error {
		s.heartbeat(ctx, client)
		return ws.SetReadDeadline(time.Now().Add(s.cfg.StaleTimeout))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", client.ConnID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] stale connection conn=%s", client.ConnID)
			} else {
				logger.Infof("[ws] read error conn=%s: %v", client.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			client.enqueue(EncodeFrame(EventError, errs.ErrInvalidPayload.WithDetail(perr.Error())))
			continue
		}

		client.Touch()
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.StaleTimeout))
		s.disp.Dispatch(ctx, client, frame)
	}
}

// writePump is the single writer goroutine for the socket: outbound frames
// from the Send queue plus heartbeat pings on a ticker. Unresponsive
// transports hit the read deadline and get closed from the read side.
func (s *Server) writePump(client *Client) {
	ws := client.WS
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-client.closed:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case data := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[ws] write failed conn=%s: %v", client.ConnID, err)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				logger.Infof("[ws] ping failed conn=%s: %v", client.ConnID, err)
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

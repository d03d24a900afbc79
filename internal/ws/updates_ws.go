package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"linkchat/internal/auth"
	"linkchat/internal/chat"
	"linkchat/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// UpdateSource is the chat manager's reactive read model. Streams are
// scoped to one session and closed when it ends.
type UpdateSource interface {
	Subscribe(userID string) (<-chan chat.Update, func(), error)
}

// UpdatesHandler streams read-model updates and notifications to the UI.
type UpdatesHandler struct {
	source   UpdateSource
	provider auth.Provider
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewUpdatesHandler constructs an UpdatesHandler.
func NewUpdatesHandler(source UpdateSource, provider auth.Provider, log *zap.Logger) *UpdatesHandler {
	return &UpdatesHandler{
		source:   source,
		provider: provider,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the session owner, upgrades the connection and
// forwards every update until either side goes away.
func (h *UpdatesHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("linkchat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	}
	userID, err := h.provider.CurrentUserID(ctx, auth.StripBearer(token))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	updates, cancel, err := h.source.Subscribe(userID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the session owner"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		return
	}
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	log := h.log.With(
		zap.String("conn_id", info.ConnID),
		zap.String("user_id", info.UserID),
		zap.String("ip", info.IP),
		zap.String("request_id", info.RequestID),
		zap.String("trace_id", info.TraceID),
	)

	observability.IncUpdateStreams()
	log.Info("update stream opened")

	go h.stream(conn, updates, cancel, info, log)
}

func (h *UpdatesHandler) stream(conn *websocket.Conn, updates <-chan chat.Update, cancel func(), info ConnInfo, log *zap.Logger) {
	closed := make(chan struct{})
	var reason, readReason string

	// The UI never sends anything; reading only surfaces pongs and closes.
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					readReason = err.Error()
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = conn.Close()
		<-closed
		if reason == "" {
			reason = readReason
		}
		observability.DecUpdateStreams()
		log.Info("update stream closed",
			zap.Duration("duration", time.Since(info.ConnectedAt)),
			zap.String("reason", reason),
		)
	}()

	for {
		select {
		case <-closed:
			return
		case u, ok := <-updates:
			if !ok {
				reason = "session ended"
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				reason = err.Error()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				reason = err.Error()
				return
			}
		}
	}
}

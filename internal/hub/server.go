package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const sendTimeout = 5 * time.Second

var errMissingHub = errors.New("hub dependency required")

// Dependencies describes what the HTTP handler needs.
type Dependencies struct {
	Hub    *Hub
	Logger *zap.Logger
}

// NewHTTPHandler serves the websocket endpoint and the liveness probe.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{hub: deps.Hub, logger: logger}
	router.GET("/health", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	hub    *Hub
	logger *zap.Logger
}

type healthPayload struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Documents   int       `json:"documents"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	stats := h.hub.Stats()
	c.JSON(http.StatusOK, healthPayload{
		Status:      "healthy",
		Connections: stats.Connections,
		Documents:   stats.Documents,
		Timestamp:   time.Now().UTC(),
	})
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	connID := h.hub.Connect(&wsSender{ctx: ctx, conn: conn})
	defer h.hub.Disconnect(connID)
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		h.hub.HandleFrame(connID, frame)
	}
}

// wsSender adapts a websocket connection to the hub's Sender contract.
type wsSender struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s *wsSender) Send(frame []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

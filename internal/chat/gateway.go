package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pharmalink/pharmalink/internal/platform/auth"
)

// TokenVerifier resolves a bearer credential to an identity. Browser
// websocket clients cannot set headers on the upgrade request, so the token
// arrives as a query parameter.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// GatewayConfig tunes per-connection transport behavior.
type GatewayConfig struct {
	IdleTimeout time.Duration
	SendBuffer  int
}

// Gateway accepts websocket upgrade requests, authenticates the connecting
// identity, and binds accepted connections into the hub. Every failure mode
// of the handshake maps to the same rejection, so nothing about auth
// internals leaks over an unauthenticated channel.
type Gateway struct {
	hub      *Hub
	relay    *Relay
	verifier TokenVerifier
	cfg      GatewayConfig
	log      zerolog.Logger
}

func NewGateway(hub *Hub, relay *Relay, verifier TokenVerifier, cfg GatewayConfig, logger zerolog.Logger) *Gateway {
	return &Gateway{hub: hub, relay: relay, verifier: verifier, cfg: cfg, log: logger}
}

// RegisterRoutes registers the websocket endpoint.
func (g *Gateway) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", g.HandleConnect)
}

// HandleConnect authenticates the token query parameter and upgrades the
// request. Rejection happens before the upgrade, so a failed handshake never
// creates a connection or touches the registry.
func (g *Gateway) HandleConnect(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.log.Debug().Err(err).Msg("websocket handshake rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := newConnection(uuid.NewString(), identity.UserID, &gorillaTransport{ws}, g.cfg.SendBuffer, g.cfg.IdleTimeout)
	g.hub.Register(conn)

	go conn.writePump()
	go g.readPump(conn)

	return nil
}

// readPump reads client frames serially for one connection. The serial loop
// plus the relay's synchronous persist gives per-conversation ordering for
// messages from a single connection. Exits on read error or idle timeout,
// tearing the connection down.
func (g *Gateway) readPump(conn *Connection) {
	defer g.hub.Unregister(conn)

	conn.transport.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	conn.transport.SetPongHandler(func(string) error {
		return conn.transport.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
	})

	for {
		_, raw, err := conn.transport.ReadMessage()
		if err != nil {
			return
		}
		conn.transport.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.hub.SendTo(conn, ErrorEvent(ErrCodeInvalidMessage, "malformed frame", ""))
			continue
		}

		ctx := context.Background()
		switch msg.Action {
		case ActionJoin:
			g.relay.HandleJoin(ctx, conn, msg)
		case ActionLeave:
			g.relay.HandleLeave(conn, msg)
		case ActionSend:
			g.relay.HandleSend(ctx, conn, msg)
		default:
			g.hub.SendTo(conn, ErrorEvent(ErrCodeUnknownAction, "unknown action", msg.ClientRef))
		}
	}
}

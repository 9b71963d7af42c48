// Package feed streams fired notifications to desktop shells over WebSocket.
// Shells subscribe to notification channels and receive every notification the
// trigger scheduler fires on them.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/auth"
	"github.com/uioyp/companion/internal/platform/notification"
)

const EventNotification = "notification.fired"

// Event is the frame sent to subscribed shells.
type Event struct {
	Type         string                    `json:"type"`
	Topic        string                    `json:"topic"`
	Timestamp    time.Time                 `json:"timestamp"`
	Notification notification.Notification `json:"notification"`
}

// ClientMessage is an inbound frame from a shell.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected shell.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks connected shells and their channel subscriptions.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> clients
	all     map[*Client]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "feed").Logger(),
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds a client with its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	h.subscribeLocked(client, client.Topics)
}

// Unregister removes a client and closes its Send channel. Unknown clients are
// ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(client)
}

func (h *Hub) unregisterLocked(client *Client) {
	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.dropLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.subscribeLocked(client, topics)
	client.Topics = append(client.Topics, topics...)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		removed[topic] = struct{}{}
		h.dropLocked(topic, client)
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := removed[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) dropLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// ProcessMessage applies a subscribe or unsubscribe frame.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends an event to the subscribers of its topic. Slow clients with
// a full buffer miss the event.
func (h *Hub) Broadcast(event Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal feed event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients[event.Topic] {
		select {
		case client.Send <- data:
			sent++
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("feed client buffer full")
		}
	}
	return sent
}

// Deliver implements notification.Deliverer, broadcasting n on its channel.
func (h *Hub) Deliver(_ context.Context, n notification.Notification) error {
	sent := h.Broadcast(Event{
		Type:         EventNotification,
		Topic:        n.Channel,
		Timestamp:    n.FiredAt,
		Notification: n,
	})
	h.logger.Debug().Str("handle", n.Handle).Int("clients", sent).Msg("notification streamed")
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.all {
		h.unregisterLocked(client)
	}
}

// ClientCount returns the number of connected shells.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of shells subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// Origin checks use the gorilla default: shells without an Origin header and
// same-host pages are accepted.
var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// statusTopics are the channels reported by Status.
var statusTopics = []string{notification.ChannelDailyReminders, notification.ChannelProgress}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	user := auth.RequireRole(auth.RolePatient, auth.RoleSpecialist)
	api.GET("/notifications/ws", h.Connect, user)
	api.GET("/notifications/status", h.Status, user)
}

// Status reports how many shells are connected, in total and per channel.
func (h *Handler) Status(c echo.Context) error {
	topics := make(map[string]int, len(statusTopics))
	for _, t := range statusTopics {
		topics[t] = h.hub.TopicCount(t)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clients": h.hub.ClientCount(),
		"topics":  topics,
	})
}

// Connect upgrades the request and subscribes the shell to the comma separated
// channels in ?topics=, defaulting to the daily reminder channel.
func (h *Handler) Connect(c echo.Context) error {
	topics := parseTopics(c.QueryParam("topics"))

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Topics: topics,
		Send:   make(chan []byte, 64),
	}
	h.hub.Register(client)
	h.hub.logger.Info().Str("client_id", client.ID).Strs("topics", topics).Msg("feed client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		topics = []string{notification.ChannelDailyReminders}
	}
	return topics
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
		h.hub.logger.Info().Str("client_id", client.ID).Msg("feed client disconnected")
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = ws.WriteControl(gorillawebsocket.CloseMessage,
		gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
}

var _ notification.Deliverer = (*Hub)(nil)

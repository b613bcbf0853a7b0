package realtime

import (
	"log"

	"github.com/PNeves10/aiquira-mvp/internal/models"
)

// Event names on the wire. Clients send "sendMessage"; the server emits the rest.
const (
	EventLoadMessages           = "loadMessages"
	EventReceiveMessage         = "receiveMessage"
	EventAdminNotification      = "adminNotification"
	EventNewMessageNotification = "newMessageNotification"
	EventSendMessage            = "sendMessage"
)

// ServerEvent is the envelope for every server→client frame.
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ClientEvent is the envelope for client→server frames.
type ClientEvent struct {
	Event string             `json:"event"`
	Data  models.ChatMessage `json:"data"`
}

// DirectMessageFunc is invoked off the hub goroutine for every chat message so
// the caller can dispatch an email to an addressed recipient if one resolves.
// Failures there never affect delivery.
type DirectMessageFunc func(msg models.ChatMessage)

// Hub owns the connected client set and the in-memory chat history. All state
// is confined to the Run goroutine; request handlers and client pumps talk to
// it exclusively through channels, so appends and fan-out are serialized by a
// single writer. History is unbounded and lost on restart.
//
// There is no acknowledgement, delivery guarantee or retry: a disconnected
// client misses broadcasts until it reconnects, at which point it gets the
// full history replayed.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbound    chan models.ChatMessage
	notices    chan ServerEvent
	done       chan struct{}
	clients    map[*Client]bool
	history    []models.ChatMessage
	onMessage  DirectMessageFunc
}

// NewHub creates a hub. onMessage may be nil.
func NewHub(onMessage DirectMessageFunc) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan models.ChatMessage, 64),
		notices:    make(chan ServerEvent, 64),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		history:    []models.ChatMessage{},
		onMessage:  onMessage,
	}
}

// Run processes hub events until Close is called. It must run in its own
// goroutine; it is the only goroutine that touches clients and history.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				close(c.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			// Replay the full history to the joining client only.
			replay := make([]models.ChatMessage, len(h.history))
			copy(replay, h.history)
			client.enqueue(ServerEvent{Event: EventLoadMessages, Data: replay})
			log.Printf("Realtime client connected (%d connected)", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Realtime client disconnected (%d connected)", len(h.clients))
			}

		case msg := <-h.inbound:
			h.history = append(h.history, msg)
			h.broadcast(ServerEvent{Event: EventReceiveMessage, Data: msg})
			h.broadcast(ServerEvent{Event: EventNewMessageNotification, Data: "New message from " + msg.User})
			if h.onMessage != nil {
				// Off-goroutine: email dispatch must not block fan-out.
				go h.onMessage(msg)
			}

		case notice := <-h.notices:
			h.broadcast(notice)
		}
	}
}

// broadcast fans an event out to every connected client. A client whose send
// buffer is full is dropped rather than allowed to stall the hub.
func (h *Hub) broadcast(event ServerEvent) {
	for client := range h.clients {
		if !client.enqueue(event) {
			delete(h.clients, client)
			close(client.send)
			log.Printf("Realtime client dropped: send buffer full (%d connected)", len(h.clients))
		}
	}
}

// Send queues a chat message for append + fan-out. Called from client read
// pumps; returns without queuing once the hub has shut down, so pumps of
// still-open connections cannot block on a stopped hub.
func (h *Hub) Send(msg models.ChatMessage) {
	select {
	case h.inbound <- msg:
	case <-h.done:
	}
}

// NotifyAdmins broadcasts an administrative notification (listing created,
// user registered) to every connected client. Non-blocking: if the hub's
// notice buffer is full the notification is discarded, matching the channel's
// no-delivery-guarantee semantics.
func (h *Hub) NotifyAdmins(text string) {
	select {
	case h.notices <- ServerEvent{Event: EventAdminNotification, Data: text}:
	default:
		log.Printf("Realtime notice dropped (buffer full): %s", text)
	}
}

// Close stops the Run loop and releases every connected client's pumps.
// Must be called exactly once, after which no clients may register.
func (h *Hub) Close() {
	close(h.done)
}

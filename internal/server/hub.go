// Package server coordinates client registration, message broadcast, and
// connection cleanup for the relaychat WebSocket system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/metrics"
)

// Persister stores the data of a message relayed between peers.
type Persister func(ctx context.Context, data json.RawMessage) error

// persistTimeout bounds one asynchronous write of a relayed message.
const persistTimeout = 30 * time.Second

// Hub manages all WebSocket client connections and handles message broadcasting.
// It maintains client registration/unregistration and ensures thread-safe operations
// through mutex protection.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     zerolog.Logger
	persist    Persister
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. persist may be nil, in which case relayed messages are
// broadcast but not stored.
func NewHub(logger zerolog.Logger, persist Persister) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
		persist:    persist,
	}
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// GetBroadcastChan returns the channel used for broadcasting messages to all clients.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetBroadcastChan() chan<- BroadcastMessage {
	return h.broadcast
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Publish broadcasts a server-originated event to every client. It gives up
// silently once the hub has been shut down.
func (h *Hub) Publish(event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("cannot encode event")
		return
	}
	h.send(BroadcastMessage{Payload: payload})
}

// send hands msg to the Run loop unless the hub is stopping.
func (h *Hub) send(msg BroadcastMessage) bool {
	select {
	case h.broadcast <- msg:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration, unregistration,
// and message broadcasting. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Debug().Msg("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info().Str("addr", client.addr).Int("clients", clientCount).Msg("client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

			h.announceOnline(clientCount)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				// Close the channel after releasing the lock
				close(client.send)
				h.logger.Info().Str("addr", client.addr).Int("clients", clientCount).Msg("client unregistered")
				h.announceOnline(clientCount)
			} else {
				h.mutex.Unlock()
			}

		case broadcastMsg := <-h.broadcast:
			h.handleBroadcast(broadcastMsg)
		}
	}
}

// announceOnline tells every client how many peers are connected.
func (h *Hub) announceOnline(count int) {
	metrics.ConnectedPeers.Set(float64(count))

	payload, err := encodeEvent(EventOnline, count)
	if err != nil {
		return
	}
	h.handleBroadcast(BroadcastMessage{Payload: payload})
}

// handleBroadcast sends a message to every client, the sender included, and
// starts persistence of relayed chat messages without waiting for it.
func (h *Hub) handleBroadcast(broadcastMsg BroadcastMessage) {
	clients := h.getClientSnapshot()

	h.logger.Debug().Int("clients", len(clients)).Msg("broadcasting")

	clientsToRemove := h.broadcastToClients(clients, broadcastMsg)
	h.removeFailedClients(clientsToRemove)

	if broadcastMsg.Relay != nil {
		metrics.RelayedMessages.Inc()
		h.persistAsync(broadcastMsg.Relay)
	}
}

func (h *Hub) persistAsync(data json.RawMessage) {
	if h.persist == nil {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := h.persist(ctx, data); err != nil {
			h.logger.Error().Err(err).Msg("failed to persist relayed message")
		}
	}()
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// broadcastToClients sends the message to all clients and returns the ones
// whose send buffer was full.
func (h *Hub) broadcastToClients(clients []*Client, broadcastMsg BroadcastMessage) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if !h.safeSend(client, broadcastMsg.Payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.logger.Warn().Str("addr", client.addr).Msg("client removed due to full send buffer")
		}
	}
	remaining := len(h.clients)
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}

	if len(channelsToClose) > 0 {
		h.announceOnline(remaining)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info().Msg("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.logger.Warn().Err(err).Str("addr", client.addr).Msg("error closing client connection")
				}
			}
		}
	}

	h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines,
// including pending persistence of relayed messages, to complete.
// It returns after they have finished or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// Package bus implements the subscription bus: a websocket client registry,
// bidirectional client<->target subscription maps, and the inbound/outbound
// message protocol described in SPEC_FULL.md §4.7. The Client type is a
// direct generalization of the donor's internal/server.Client
// (readPump/writePump, ping/pong deadlines, bounded send channel), grounded
// on original_source/sync/websocket_manager.py for the subscription/notify
// semantics.
package bus

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rhino11/formation/internal/deltasync"
	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/models"
)

const (
	readLimitBytes  = 4096
	readDeadline    = 60 * time.Second
	pingPeriod      = 54 * time.Second
	writeDeadline   = 10 * time.Second
	sendBufferSize  = 256
	outboundRateRPS = 50
	outboundBurst   = 100
)

// Inbound/outbound message type tags, per SPEC_FULL.md §4.7.
const (
	MsgSubscribe   = "SUBSCRIBE"
	MsgUnsubscribe = "UNSUBSCRIBE"
	MsgPing        = "PING"
	MsgGetDelta    = "GET_DELTA"
	MsgGetLatest   = "GET_LATEST"

	MsgTargetUpdate      = "TARGET_UPDATE"
	MsgFormationDetected = "FORMATION_DETECTED"
	MsgSubscribeConfirm  = "SUBSCRIBE_CONFIRM"
	MsgInitialState      = "INITIAL_STATE"
	MsgPong              = "PONG"
	MsgDeltaResponse     = "DELTA_RESPONSE"
	MsgError             = "ERROR"
)

// Message is the JSON envelope for every inbound and outbound frame.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn is the subset of *websocket.Conn the bus depends on, kept narrow so
// tests can substitute a fake without a real network socket.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
	RemoteAddr() net.Addr
}

// Frame type constants mirroring gorilla/websocket's, so this package does
// not need to import it directly.
const (
	textMessage  = 1
	pingMessage  = 9
	closeMessage = 8
)

// DeltaProvider answers GET_DELTA requests; implemented by *deltasync.Service.
type DeltaProvider interface {
	Pull(sessionID string, targetIDs []string, sinceVersions map[string]int64) deltasync.Package
}

// FormationProvider answers GET_LATEST requests; implemented by *store.Store.
type FormationProvider interface {
	Latest(n int) []models.Formation
}

// MetricsSink receives bus lifecycle and traffic events; implemented by
// *metrics.Registry.
type MetricsSink interface {
	ObserveBusMessage(msgType string)
	ObserveBusDisconnect(reason string)
	SetBusClients(count float64)
}

// Bus holds the connected-client registry and the bidirectional subscription
// graph. Ownership: the bus exclusively owns the client registry and
// subscription maps (SPEC_FULL.md §3).
type Bus struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	clientTargets map[string]map[string]bool // clientID -> target ids
	targetClients map[string]map[string]bool // target id -> client ids

	deltas     DeltaProvider
	formations FormationProvider
	metrics    MetricsSink
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (b *Bus) SetMetrics(m MetricsSink) {
	b.metrics = m
}

// New creates an empty Bus. deltas/formations may be nil; GET_DELTA/GET_LATEST
// then reply with an ERROR frame.
func New(deltas DeltaProvider, formations FormationProvider) *Bus {
	return &Bus{
		clients:       make(map[string]*Client),
		clientTargets: make(map[string]map[string]bool),
		targetClients: make(map[string]map[string]bool),
		deltas:        deltas,
		formations:    formations,
	}
}

// Client is one connected websocket subscriber.
type Client struct {
	ID      string
	conn    wsConn
	send    chan []byte
	limiter *rate.Limiter
	bus     *Bus

	closeOnce sync.Once
}

// Connect registers a new client over conn and returns it. Callers must
// start ReadPump and WritePump on separate goroutines.
func (b *Bus) Connect(clientID string, conn wsConn) *Client {
	c := &Client{
		ID:      clientID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(outboundRateRPS), outboundBurst),
		bus:     b,
	}

	b.mu.Lock()
	b.clients[clientID] = c
	count := len(b.clients)
	b.mu.Unlock()

	logging.WebSocketEvent(clientID, "connect")
	if b.metrics != nil {
		b.metrics.SetBusClients(float64(count))
	}
	return c
}

// Disconnect removes clientID from the registry and every subscription map.
func (b *Bus) Disconnect(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.clients, clientID)
	for targetID := range b.clientTargets[clientID] {
		if subs := b.targetClients[targetID]; subs != nil {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(b.targetClients, targetID)
			}
		}
	}
	delete(b.clientTargets, clientID)

	logging.WebSocketEvent(clientID, "disconnect")
	if b.metrics != nil {
		b.metrics.ObserveBusDisconnect("read_closed")
		b.metrics.SetBusClients(float64(len(b.clients)))
	}
}

// Subscribe adds targetIDs to clientID's subscription set.
func (b *Bus) Subscribe(clientID string, targetIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clientTargets[clientID] == nil {
		b.clientTargets[clientID] = make(map[string]bool)
	}
	for _, tid := range targetIDs {
		b.clientTargets[clientID][tid] = true
		if b.targetClients[tid] == nil {
			b.targetClients[tid] = make(map[string]bool)
		}
		b.targetClients[tid][clientID] = true
	}
}

// Unsubscribe removes targetIDs from clientID's subscription set.
func (b *Bus) Unsubscribe(clientID string, targetIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, tid := range targetIDs {
		delete(b.clientTargets[clientID], tid)
		if subs := b.targetClients[tid]; subs != nil {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(b.targetClients, tid)
			}
		}
	}
}

// SubscribedTargets returns clientID's current subscription set.
func (b *Bus) SubscribedTargets(clientID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.clientTargets[clientID]))
	for tid := range b.clientTargets[clientID] {
		out = append(out, tid)
	}
	return out
}

// ClientCount reports how many clients are currently connected.
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// PublishTargetUpdate sends a TARGET_UPDATE frame to every subscriber of
// targetID.
func (b *Bus) PublishTargetUpdate(targetID string, delta models.DeltaEvent, now time.Time) {
	b.mu.RLock()
	subscriberIDs := make([]string, 0, len(b.targetClients[targetID]))
	for cid := range b.targetClients[targetID] {
		subscriberIDs = append(subscriberIDs, cid)
	}
	clientsCopy := make(map[string]*Client, len(subscriberIDs))
	for _, cid := range subscriberIDs {
		if c, ok := b.clients[cid]; ok {
			clientsCopy[cid] = c
		}
	}
	b.mu.RUnlock()

	msg := Message{Type: MsgTargetUpdate, Timestamp: now.UnixMilli(), Data: map[string]interface{}{
		"target_id": targetID,
		"delta":     delta,
	}}
	for _, c := range clientsCopy {
		c.sendMessage(msg)
	}
}

// BroadcastFormationDetected sends a FORMATION_DETECTED frame to every
// connected client.
func (b *Bus) BroadcastFormationDetected(formation models.Formation, now time.Time) {
	b.mu.RLock()
	clientsCopy := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clientsCopy = append(clientsCopy, c)
	}
	b.mu.RUnlock()

	msg := Message{Type: MsgFormationDetected, Timestamp: now.UnixMilli(), Data: map[string]interface{}{
		"formation": formation,
	}}
	for _, c := range clientsCopy {
		c.sendMessage(msg)
	}
}

// sendMessage marshals msg and hands it to the client's bounded send channel,
// disconnecting the client on a full channel. A marshal failure is logged and
// the message dropped; the client stays connected.
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.For("bus").WithField("client_id", c.ID).WithField("error", err.Error()).Warn("[BUS] marshal failed")
		return
	}
	if c.bus.metrics != nil {
		c.bus.metrics.ObserveBusMessage(msg.Type)
	}

	select {
	case c.send <- data:
	default:
		logging.WebSocketEvent(c.ID, "send_buffer_full")
		if c.bus.metrics != nil {
			c.bus.metrics.ObserveBusDisconnect("send_buffer_full")
		}
		c.Close()
	}
}

// Close closes the client's send channel exactly once, letting WritePump
// drain and terminate the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump reads inbound frames until the connection closes or errors,
// dispatching each to handleMessage. On return it disconnects the client
// from the bus and closes the connection, matching the donor's readPump
// cleanup shape.
func (c *Client) ReadPump() {
	defer func() {
		c.bus.Disconnect(c.ID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimitBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleMessage(data)
	}
}

// WritePump drains the send channel to the connection and pings on
// pingPeriod, matching the donor's writePump shape.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(closeMessage, []byte{})
				return
			}
			if c.limiter != nil {
				_ = c.limiter.Wait(context.Background())
			}
			if err := c.conn.WriteMessage(textMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(pingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(Message{Type: MsgError, Timestamp: time.Now().UnixMilli(), Data: "malformed message"})
		return
	}

	switch msg.Type {
	case MsgPing:
		c.sendMessage(Message{Type: MsgPong, Timestamp: time.Now().UnixMilli()})

	case MsgSubscribe:
		ids := stringSliceField(msg.Data, "target_ids")
		c.bus.Subscribe(c.ID, ids)
		c.sendMessage(Message{Type: MsgSubscribeConfirm, Timestamp: time.Now().UnixMilli(), Data: ids})

	case MsgUnsubscribe:
		ids := stringSliceField(msg.Data, "target_ids")
		c.bus.Unsubscribe(c.ID, ids)
		c.sendMessage(Message{Type: MsgSubscribeConfirm, Timestamp: time.Now().UnixMilli(), Data: ids})

	case MsgGetDelta:
		if c.bus.deltas == nil {
			c.sendMessage(Message{Type: MsgError, Timestamp: time.Now().UnixMilli(), Data: "delta sync unavailable"})
			return
		}
		since := int64MapField(msg.Data, "since_versions")
		pkg := c.bus.deltas.Pull("", nil, since)
		c.sendMessage(Message{Type: MsgDeltaResponse, Timestamp: time.Now().UnixMilli(), Data: pkg})

	case MsgGetLatest:
		if c.bus.formations == nil {
			c.sendMessage(Message{Type: MsgError, Timestamp: time.Now().UnixMilli(), Data: "formation store unavailable"})
			return
		}
		count := intField(msg.Data, "count", 10)
		latest := c.bus.formations.Latest(count)
		c.sendMessage(Message{Type: MsgDeltaResponse, Timestamp: time.Now().UnixMilli(), Data: latest})

	default:
		c.sendMessage(Message{Type: MsgError, Timestamp: time.Now().UnixMilli(), Data: "unknown message type"})
	}
}

func stringSliceField(data interface{}, key string) []string {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func int64MapField(data interface{}, key string) map[string]int64 {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = int64(f)
		}
	}
	return out
}

func intField(data interface{}, key string, def int) int {
	m, ok := data.(map[string]interface{})
	if !ok {
		return def
	}
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return def
}

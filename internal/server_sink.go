package internal

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Sink delivers encoded frames to connections. Delivery is best effort: a
// target that is gone or cannot keep up is skipped and nothing is reported
// back to the caller.
type Sink interface {
	Broadcast(ids []string, frame []byte)
	Send(id string, frame []byte)
}

// Hub is the websocket-backed Sink. It only knows transport peers; identity
// and membership live in the Registry and Directory.
type Hub struct {
	mutex   sync.RWMutex
	peers   map[string]*peer
	logger  *slog.Logger
	metrics *Metrics
}

func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{
		peers:   make(map[string]*peer),
		logger:  logger,
		metrics: metrics,
	}
}

func (hub *Hub) attach(p *peer) {
	hub.mutex.Lock()
	hub.peers[p.id] = p
	hub.mutex.Unlock()
}

func (hub *Hub) detach(id string) {
	hub.mutex.Lock()
	delete(hub.peers, id)
	hub.mutex.Unlock()
}

func (hub *Hub) lookup(id string) *peer {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.peers[id]
}

func (hub *Hub) Send(id string, frame []byte) {
	hub.deliver(hub.lookup(id), id, frame)
}

func (hub *Hub) Broadcast(ids []string, frame []byte) {
	hub.mutex.RLock()
	targets := make([]*peer, len(ids))
	for idx, id := range ids {
		targets[idx] = hub.peers[id]
	}
	hub.mutex.RUnlock()
	for idx, target := range targets {
		hub.deliver(target, ids[idx], frame)
	}
}

func (hub *Hub) deliver(target *peer, id string, frame []byte) {
	if target != nil && target.enqueue(frame) {
		hub.metrics.IncDelivery(deliveryQueued)
		return
	}
	hub.metrics.IncDelivery(deliveryDropped)
	if target != nil {
		hub.logger.Warn("dropping slow connection", "conn", id)
	}
}

// CloseAll closes every peer; their write pumps hang up and the read loops
// then run the normal disconnect path.
func (hub *Hub) CloseAll() {
	hub.mutex.RLock()
	peers := make([]*peer, 0, len(hub.peers))
	for _, p := range hub.peers {
		peers = append(peers, p)
	}
	hub.mutex.RUnlock()
	for _, p := range peers {
		p.close()
	}
}

func (hub *Hub) Len() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.peers)
}

// peer is one websocket connection with a buffered outbound queue. The send
// channel is never closed; done signals shutdown to the write pump instead,
// so enqueue can race with close safely.
type peer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(id string, conn *websocket.Conn, buffer int) *peer {
	if buffer < 1 {
		buffer = 1
	}
	return &peer{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue never blocks. A full queue means the client is too slow to read, so
// the peer is closed rather than stalling the rest of the room.
func (p *peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.close()
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

func (p *peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

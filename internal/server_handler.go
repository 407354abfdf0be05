package internal

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ServeWS upgrades the request, assigns a connection id and starts the pumps.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Warn("upgrade error", "error", err, "remote", request.RemoteAddr)
		return
	}

	id := uuid.NewString()
	p := newPeer(id, websocketConn, s.opts.SendBuffer)
	s.hub.attach(p)
	s.router.Connect(id)

	go s.writePump(p)
	go s.readPump(p)
}

func (s *Server) readPump(p *peer) {
	defer func() {
		if err := s.router.Disconnect(p.id); err != nil && !errors.Is(err, ErrUnknownConnection) {
			s.logger.Error("disconnect", "conn", p.id, "error", err)
		}
		s.hub.detach(p.id)
		p.close()
		_ = p.conn.Close()
	}()
	p.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !p.closed() {
				s.logger.Debug("read error", "conn", p.id, "error", err)
			}
			return
		}
		envelope, err := DecodeEnvelope(frame)
		if err != nil {
			s.logger.Debug("ignoring frame", "conn", p.id, "error", err)
			continue
		}
		if err := s.router.Handle(p.id, envelope); err != nil {
			s.logger.Debug("event not handled", "conn", p.id, "event", envelope.Event, "error", err)
		}
	}
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.close()
				return
			}
		case <-p.done:
			// ask the peer to hang up; the read loop sees the close and cleans up
			_ = p.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		}
	}
}

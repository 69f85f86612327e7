package server

import (
	"github.com/teranos/pact/certify"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// CertificateMessage is the websocket frame announcing a stored certificate.
type CertificateMessage struct {
	Type        string              `json:"type"`
	TraceID     string              `json:"trace_id"`
	Version     int64               `json:"version"`
	Certificate certify.Certificate `json:"certificate"`
}

// Publish queues ev for every subscriber. Subscribers whose buffer is full
// miss the event; they can read the certificate back over HTTP.
func (s *Server) Publish(ev certify.Event) {
	cert := ev.Certificate
	if cert == nil {
		cert = certify.Certificate{}
	}
	sent, dropped := s.broadcastMessage(CertificateMessage{
		Type:        "certificate",
		TraceID:     ev.TraceID,
		Version:     ev.Version,
		Certificate: cert,
	})
	s.published.Add(1)
	if dropped > 0 {
		s.broadcastDrops.Add(int64(dropped))
		s.logger.Warnw("subscribers fell behind",
			logger.FieldTraceID, ev.TraceID,
			"dropped", dropped,
			"total_drops", s.broadcastDrops.Load())
	}
	if sent > 0 {
		s.logger.Debugw("certificate broadcast",
			logger.FieldSymbol, sym.Verdict,
			logger.FieldTraceID, ev.TraceID,
			"clients", sent)
	}
}

// broadcastMessage sends msg to all connected clients without blocking.
// The read lock is held while sending so unregister cannot close a channel
// mid-send.
func (s *Server) broadcastMessage(msg interface{}) (sent, dropped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- msg:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

var _ certify.Publisher = (*Server)(nil)

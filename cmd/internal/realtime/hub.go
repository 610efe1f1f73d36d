package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"courier/cmd/internal/metrics"
	v1 "courier/contracts/realtime/v1"
)

// Message is one inbound payload attributed to its sender.
type Message struct {
	SenderID   string
	SenderName string
	Payload    json.RawMessage
}

// Frame encodes m as the outbound wire frame.
func (m Message) Frame() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(v1.Outbound{
		UserID:   m.SenderID,
		Username: m.SenderName,
		Message:  payload,
	})
}

// ParseInbound extracts the message payload from a client frame.
func ParseInbound(data []byte) (json.RawMessage, error) {
	in, err := v1.DecodeInbound(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return in.Message, nil
}

// Hub fans messages out to every session except the sender.
type Hub struct {
	log      *slog.Logger
	registry *Registry
	metrics  *metrics.Metrics
}

// NewHub builds a Hub over reg. m may be nil.
func NewHub(log *slog.Logger, reg *Registry, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, registry: reg, metrics: m}
}

// Registry returns the registry the hub broadcasts over.
func (h *Hub) Registry() *Registry { return h.registry }

// Broadcast delivers payload from sender to every other live session and
// returns how many peers accepted it. A peer that cannot take the frame is
// logged and skipped; it never stalls the others.
func (h *Hub) Broadcast(from *Session, payload json.RawMessage) int {
	frame, err := Message{
		SenderID:   from.IdentityID,
		SenderName: from.Name,
		Payload:    payload,
	}.Frame()
	if err != nil {
		h.log.Error("hub.encode.fail", "user_id", from.IdentityID, "err", err)
		return 0
	}

	h.metrics.Broadcast()

	delivered := 0
	for _, peer := range h.registry.Peers(from.IdentityID) {
		if err := peer.Deliver(frame); err != nil {
			result := "dropped"
			if errors.Is(err, ErrClientClosed) {
				result = "closed"
			}
			h.metrics.Delivery(result)
			h.log.Warn("hub.deliver.drop",
				"from", from.IdentityID,
				"to", peer.IdentityID,
				"conn_id", peer.ConnID,
				"err", err,
			)
			continue
		}
		h.metrics.Delivery("ok")
		delivered++
	}
	return delivered
}

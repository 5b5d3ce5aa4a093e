package gateway

import (
	"context"

	"github.com/openmatka/engine/internal/events"
	"github.com/rs/zerolog/log"
)

// HandleBusEvent routes a durable bus envelope to websocket clients:
// targeted when the envelope names a user, global otherwise. It is the
// handler wired into the JetStream consumer.
func (cm *ConnectionManager) HandleBusEvent(ctx context.Context, env events.Envelope) error {
	event := fromEnvelope(env)

	if env.UserID != "" {
		cm.BroadcastToUser(env.UserID, event)
	} else {
		cm.BroadcastGlobal(event)
	}

	log.Debug().
		Str("event_id", env.EventID).
		Str("event_type", env.EventType).
		Str("round", env.RoundLabel).
		Str("user_id", env.UserID).
		Msg("bus event routed to websocket clients")
	return nil
}

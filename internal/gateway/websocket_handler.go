package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// UpgradeConnection upgrades an HTTP request to a websocket and registers
// it under the given user id.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Send:        make(chan []byte, 256),
		manager:     cm,
		ws:          ws,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(conn)
	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Msg("websocket connection established")
	return nil
}

// HandleWebSocket is the HTTP handler for the /ws endpoint. The user id
// comes from the upstream auth layer; here it is read from the request
// directly since authentication is outside this service.
func (cm *ConnectionManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := cm.UpgradeConnection(w, r, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
	}
}

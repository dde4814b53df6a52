package stream

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lexiqai/transcription-gateway/internal/config"
	"github.com/lexiqai/transcription-gateway/internal/observability"
	"github.com/lexiqai/transcription-gateway/internal/stt"
)

// BackendFactory supplies the transcription backend for each new session.
type BackendFactory interface {
	New() stt.Backend
}

// NewUpgrader builds the WebSocket upgrader, restricting browser origins to
// allowed when the list is non-empty.
func NewUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin:     originChecker(allowed),
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients do not send Origin
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handler is the entry point for transcription WebSocket connections.
// Each connection gets its own Session; sessions share nothing.
func Handler(cfg *config.Config, factory BackendFactory) http.HandlerFunc {
	upgrader := NewUpgrader(cfg.Origins())

	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = observability.NewCorrelationID()
		}
		sessionID := uuid.New().String()
		logger := observability.WithCorrelationID(correlationID).
			With().
			Str("session_id", sessionID).
			Logger()

		// Upgrade HTTP connection to WebSocket; the upgrader writes the error response
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		if cfg.MaxMessageBytes > 0 {
			conn.SetReadLimit(cfg.MaxMessageBytes)
		}

		backend := factory.New()
		session := NewSession(conn, backend, Options{
			SessionID:       sessionID,
			DefaultMimeType: cfg.DefaultMimeType,
			StopGrace:       cfg.StopGrace(),
			BackendTimeout:  cfg.BackendTimeoutDuration(),
		}, logger, observability.NewSessionMetrics(backend.Name()))

		if err := session.Run(r.Context()); err != nil {
			logger.Debug().Err(err).Msg("Session ended with error")
		}
	}
}

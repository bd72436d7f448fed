// Package protocol defines the WebSocket client/server message wire types
// and the typed error-code enum exchanged over the Session Actor protocol.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClientMessageType tags the inbound client->server message union.
type ClientMessageType string

const (
	ClientEnqueue ClientMessageType = "enqueue"
	ClientDequeue ClientMessageType = "dequeue"
	ClientClose   ClientMessageType = "close"
)

// ClientMessage is the decoded form of any inbound WebSocket text frame.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	PlayerID  uuid.UUID         `json:"player_id,omitempty"`
	GameMode  string            `json:"game_mode,omitempty"`
	Metadata  string            `json:"metadata,omitempty"`
}

// DecodeClientMessage parses a raw text frame, returning InvalidMessageFormat
// via the caller's error handling rather than panicking on malformed input.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("protocol: decode client message: %w", err)
	}
	switch msg.Type {
	case ClientEnqueue, ClientDequeue, ClientClose:
		return msg, nil
	default:
		return ClientMessage{}, fmt.Errorf("protocol: unknown client message type %q", msg.Type)
	}
}

// ServerMessageType tags the outbound server->client message union.
type ServerMessageType string

const (
	ServerEnqueued   ServerMessageType = "enqueued"
	ServerDequeued   ServerMessageType = "dequeued"
	ServerMatchFound ServerMessageType = "match_found"
	ServerError      ServerMessageType = "error"
)

// ErrorCode enumerates every user-facing error the session protocol can
// report, matching the external interface contract exactly.
type ErrorCode string

const (
	ErrInvalidGameMode             ErrorCode = "invalid_game_mode"
	ErrAlreadyInQueue              ErrorCode = "already_in_queue"
	ErrInternalError               ErrorCode = "internal_error"
	ErrNotInQueue                  ErrorCode = "not_in_queue"
	ErrInvalidMessageFormat        ErrorCode = "invalid_message_format"
	ErrWrongSessionID              ErrorCode = "wrong_session_id"
	ErrTemporaryAllocationError    ErrorCode = "temporary_allocation_error"
	ErrDedicatedServerTimeout      ErrorCode = "dedicated_server_timeout"
	ErrDedicatedServerErrorResponse ErrorCode = "dedicated_server_error_response"
	ErrMaxRetriesExceeded          ErrorCode = "max_retries_exceeded"
	ErrMatchmakingTimeout          ErrorCode = "matchmaking_timeout"
	ErrPlayerTemporarilyBlocked    ErrorCode = "player_temporarily_blocked"
	ErrRateLimitExceeded           ErrorCode = "rate_limit_exceeded"
)

// ServerMessage is marshaled to the stable client-facing JSON shape; fields
// irrelevant to Type are omitted by the zero-value omitempty tags.
type ServerMessage struct {
	Type          ServerMessageType `json:"type"`
	PodID         string            `json:"pod_id,omitempty"`
	SessionID     uuid.UUID         `json:"session_id,omitempty"`
	WinnerID      string            `json:"winner_id,omitempty"`
	OpponentID    string            `json:"opponent_id,omitempty"`
	ServerAddress string            `json:"server_address,omitempty"`
	BattleData    json.RawMessage   `json:"battle_data,omitempty"`
	Code          ErrorCode         `json:"code,omitempty"`
	Message       string            `json:"message,omitempty"`
}

func Enqueued(podID string) ServerMessage {
	return ServerMessage{Type: ServerEnqueued, PodID: podID}
}

func Dequeued() ServerMessage {
	return ServerMessage{Type: ServerDequeued}
}

func MatchFound(sessionID uuid.UUID, winnerID, opponentID, serverAddress string) ServerMessage {
	return ServerMessage{
		Type:          ServerMatchFound,
		SessionID:     sessionID,
		WinnerID:      winnerID,
		OpponentID:    opponentID,
		ServerAddress: serverAddress,
	}
}

// Error always carries a code: the protocol never sends a bare error string.
func Error(code ErrorCode, message string) ServerMessage {
	return ServerMessage{Type: ServerError, Code: code, Message: message}
}

// PlayerCandidate is the matchmaking unit of work carried through the queue
// and into allocation: a player id, a matching score, the pod that accepted
// the enqueue, and an opaque metadata blob the matchmaker never interprets.
type PlayerCandidate struct {
	PlayerID uuid.UUID       `json:"player_id"`
	Score    int64           `json:"score"`
	PodID    string          `json:"pod_id"`
	Metadata json.RawMessage `json:"metadata"`
}

// Package protocol defines the HTTP and real-time wire types.
package protocol

import (
	"encoding/json"

	"github.com/leafsync/leafsync/pkg/models"
)

// Real-time event names as sent by the server. The spelling is part of
// the wire contract.
const (
	EventEntityRename = "reciveEntityRename"
	EventRemoveEntity = "removeEntity"
	EventEntityMove   = "reciveEntityMove"
	EventNewFolder    = "reciveNewFolder"
	EventNewDoc       = "reciveNewDoc"
	EventNewFile      = "reciveNewFile"
)

// IndexAllRequest is the body for POST /project/{id}/references/indexAll.
type IndexAllRequest struct {
	ShouldBroadcast bool `json:"shouldBroadcast"`
}

// IndexAllResponse is returned by POST /project/{id}/references/indexAll.
type IndexAllResponse struct {
	Keys []string `json:"keys"`
}

// TreeResponse is returned by GET /project/{id}/tree.
type TreeResponse struct {
	RootFolder *models.Folder `json:"rootFolder"`
}

// ErrorResponse is the JSON error body returned by the server. Older
// endpoints use "error", newer ones "message".
type ErrorResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Frame is one named event on the WebSocket channel. Args are the
// positional event arguments.
type Frame struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

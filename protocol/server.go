package protocol

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/zlnvch/boardsync/models"
)

const (
	TypeInitClient      = "init_client"
	TypeActiveUsers     = "active_users"
	TypeIndividualError = "individual_error"
	TypeBroadcastError  = "broadcast_error"
)

// ServerMessage is any message the server sends. Encoding adds the type tag.
type ServerMessage interface {
	Type() string
}

type InitClient struct {
	ClientId   string                `json:"clientId"`
	Whiteboard models.WhiteboardView `json:"whiteboard"`
	Permission models.Tier           `json:"permission"`
}

type ActiveUsers struct {
	Users []models.UserSummary `json:"users"`
}

type CanvasCreated struct {
	ClientId     string               `json:"clientId"`
	CanvasId     string               `json:"canvasId"`
	Width        int                  `json:"width"`
	Height       int                  `json:"height"`
	Name         string               `json:"name"`
	AllowedUsers []models.UserSummary `json:"allowedUsers"`
	TimeCreated  int64                `json:"timeCreated"`
}

type CanvasesDeleted struct {
	ClientId  string   `json:"clientId"`
	CanvasIds []string `json:"canvasIds"`
}

type ShapesCreated struct {
	ClientId string                  `json:"clientId"`
	CanvasId string                  `json:"canvasId"`
	Shapes   map[string]models.Shape `json:"shapes"`
}

type ShapesUpdated struct {
	ClientId string                  `json:"clientId"`
	CanvasId string                  `json:"canvasId"`
	Shapes   map[string]models.Shape `json:"shapes"`
}

type AllowedUsersUpdated struct {
	ClientId     string               `json:"clientId"`
	CanvasId     string               `json:"canvasId"`
	AllowedUsers []models.UserSummary `json:"allowedUsers"`
}

// IndividualError goes only to the connection that caused it.
type IndividualError struct {
	ClientId string    `json:"clientId"`
	Kind     ErrorKind `json:"kind"`
	Action   string    `json:"action,omitempty"`
	Message  string    `json:"message"`
}

// BroadcastError goes to every connection on the session.
type BroadcastError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (InitClient) Type() string          { return TypeInitClient }
func (ActiveUsers) Type() string         { return TypeActiveUsers }
func (CanvasCreated) Type() string       { return TypeCreateCanvas }
func (CanvasesDeleted) Type() string     { return TypeDeleteCanvases }
func (ShapesCreated) Type() string       { return TypeCreateShapes }
func (ShapesUpdated) Type() string       { return TypeUpdateShapes }
func (AllowedUsersUpdated) Type() string { return TypeUpdateCanvasAllowedUsers }
func (IndividualError) Type() string     { return TypeIndividualError }
func (BroadcastError) Type() string      { return TypeBroadcastError }

// Encode marshals msg as a flat JSON object with a leading "type" field.
func Encode(msg ServerMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(msg.Type()) + 12)
	buf.WriteString(`{"type":`)
	tag, _ := json.Marshal(msg.Type())
	buf.Write(tag)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 1 {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

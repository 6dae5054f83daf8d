package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/zlnvch/boardsync/models"
)

const (
	TypeLogin                    = "login"
	TypeCreateCanvas             = "create_canvas"
	TypeDeleteCanvases           = "delete_canvases"
	TypeCreateShapes             = "create_shapes"
	TypeUpdateShapes             = "update_shapes"
	TypeUpdateCanvasAllowedUsers = "update_canvas_allowed_users"
)

// ClientMessage is one of Login, CreateCanvas, DeleteCanvases, CreateShapes,
// UpdateShapes or UpdateCanvasAllowedUsers.
type ClientMessage interface {
	Type() string
	validate() error
}

// Mutation is a ClientMessage that changes the document. Only
// authenticated connections with an editing tier may send one.
type Mutation interface {
	ClientMessage
	mutation()
}

type Login struct {
	Token string `json:"token"`
}

type CreateCanvas struct {
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Name         string   `json:"name"`
	AllowedUsers UserRefs `json:"allowedUsers"`
}

type DeleteCanvases struct {
	CanvasIds []string `json:"canvasIds"`
}

type CreateShapes struct {
	CanvasId string         `json:"canvasId"`
	Shapes   []models.Shape `json:"shapes"`
}

type UpdateShapes struct {
	CanvasId string                  `json:"canvasId"`
	Shapes   map[string]models.Shape `json:"shapes"`
}

type UpdateCanvasAllowedUsers struct {
	CanvasId     string   `json:"canvasId"`
	AllowedUsers UserRefs `json:"allowedUsers"`
}

func (Login) Type() string                    { return TypeLogin }
func (CreateCanvas) Type() string             { return TypeCreateCanvas }
func (DeleteCanvases) Type() string           { return TypeDeleteCanvases }
func (CreateShapes) Type() string             { return TypeCreateShapes }
func (UpdateShapes) Type() string             { return TypeUpdateShapes }
func (UpdateCanvasAllowedUsers) Type() string { return TypeUpdateCanvasAllowedUsers }

func (CreateCanvas) mutation()             {}
func (DeleteCanvases) mutation()           {}
func (CreateShapes) mutation()             {}
func (UpdateShapes) mutation()             {}
func (UpdateCanvasAllowedUsers) mutation() {}

func (m Login) validate() error {
	if m.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

func (m CreateCanvas) validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", m.Width, m.Height)
	}
	return nil
}

func (m DeleteCanvases) validate() error {
	if m.CanvasIds == nil {
		return errors.New("canvasIds is required")
	}
	return nil
}

func (m CreateShapes) validate() error {
	if m.CanvasId == "" {
		return errors.New("canvasId is required")
	}
	if m.Shapes == nil {
		return errors.New("shapes is required")
	}
	for i, s := range m.Shapes {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("shape %d: %w", i, err)
		}
	}
	return nil
}

func (m UpdateShapes) validate() error {
	if m.CanvasId == "" {
		return errors.New("canvasId is required")
	}
	if m.Shapes == nil {
		return errors.New("shapes is required")
	}
	for id, s := range m.Shapes {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("shape %s: %w", id, err)
		}
	}
	return nil
}

func (m UpdateCanvasAllowedUsers) validate() error {
	if m.CanvasId == "" {
		return errors.New("canvasId is required")
	}
	if m.AllowedUsers == nil {
		return errors.New("allowedUsers is required")
	}
	return nil
}

// UserRefs is a list of user ids. On the wire each entry is either a bare id
// or a UserSummary object.
type UserRefs []string

func (r *UserRefs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*r = nil
		return nil
	}

	ids := make(UserRefs, 0, len(raw))
	for _, item := range raw {
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			if id == "" {
				return errors.New("empty user id")
			}
			ids = append(ids, id)
			continue
		}

		var summary models.UserSummary
		if err := json.Unmarshal(item, &summary); err != nil {
			return fmt.Errorf("invalid user reference: %w", err)
		}
		if summary.UserId == "" {
			return errors.New("user reference missing userId")
		}
		ids = append(ids, summary.UserId)
	}

	*r = ids
	return nil
}

var ErrInvalidMessage = errors.New("invalid message")

// DecodeClientMessage parses one text frame. Any failure wraps ErrInvalidMessage.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg ClientMessage
	var err error
	switch envelope.Type {
	case TypeLogin:
		msg, err = decodeAs[Login](data)
	case TypeCreateCanvas:
		msg, err = decodeAs[CreateCanvas](data)
	case TypeDeleteCanvases:
		msg, err = decodeAs[DeleteCanvases](data)
	case TypeCreateShapes:
		msg, err = decodeAs[CreateShapes](data)
	case TypeUpdateShapes:
		msg, err = decodeAs[UpdateShapes](data)
	case TypeUpdateCanvasAllowedUsers:
		msg, err = decodeAs[UpdateCanvasAllowedUsers](data)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, envelope.Type, err)
	}

	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, envelope.Type, err)
	}
	return msg, nil
}

func decodeAs[T ClientMessage](data []byte) (ClientMessage, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

package models

type DiffKind string

const (
	DiffCreateCanvas             DiffKind = "create_canvas"
	DiffDeleteCanvases           DiffKind = "delete_canvases"
	DiffCreateShapes             DiffKind = "create_shapes"
	DiffUpdateShapes             DiffKind = "update_shapes"
	DiffUpdateCanvasAllowedUsers DiffKind = "update_canvas_allowed_users"
)

// Diff records one committed in-memory mutation so it can be replayed
// against the store. Only the fields relevant to Kind are set.
type Diff struct {
	Kind         DiffKind         `json:"kind"`
	WhiteboardId string           `json:"whiteboardId"`
	Canvas       *CanvasRecord    `json:"canvas,omitempty"`
	CanvasId     string           `json:"canvasId,omitempty"`
	CanvasIds    []string         `json:"canvasIds,omitempty"`
	Shapes       map[string]Shape `json:"shapes,omitempty"`
	// AllowedUsers is nil for an open canvas.
	AllowedUsers     []string `json:"allowedUsers"`
	TimeLastModified int64    `json:"timeLastModified,omitempty"`
}

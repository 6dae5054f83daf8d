package models

import "sort"

type Whiteboard struct {
	Id          string
	Name        string
	OwnerId     string
	TimeCreated int64
	Canvases    map[string]*Canvas
	// Users maps user ids to display identities for allow-list projection.
	Users map[string]UserSummary

	sharedUsers      []Permission
	permissionByUser map[string]Tier
}

func NewWhiteboard(id, name, ownerId string, sharedUsers []Permission) *Whiteboard {
	w := &Whiteboard{
		Id:       id,
		Name:     name,
		OwnerId:  ownerId,
		Canvases: make(map[string]*Canvas),
		Users:    make(map[string]UserSummary),
	}
	w.SetSharedUsers(sharedUsers)
	return w
}

// SetSharedUsers replaces the shared-user list and rebuilds the permission index.
func (w *Whiteboard) SetSharedUsers(sharedUsers []Permission) {
	w.sharedUsers = append([]Permission(nil), sharedUsers...)
	w.permissionByUser = permissionIndex(w.OwnerId, w.sharedUsers)
}

func (w *Whiteboard) SharedUsers() []Permission {
	return append([]Permission(nil), w.sharedUsers...)
}

// PermissionFor returns the user's tier, or false when the user has no access.
func (w *Whiteboard) PermissionFor(userId string) (Tier, bool) {
	tier, ok := w.permissionByUser[userId]
	return tier, ok
}

// UserSummaryFor projects a user id through the whiteboard's directory.
func (w *Whiteboard) UserSummaryFor(userId string) UserSummary {
	if u, ok := w.Users[userId]; ok {
		return u
	}
	return UserSummary{UserId: userId}
}

func (w *Whiteboard) AddUser(u UserSummary) {
	w.Users[u.UserId] = u
}

type CanvasView struct {
	Id               string           `json:"id"`
	Name             string           `json:"name"`
	Width            int              `json:"width"`
	Height           int              `json:"height"`
	TimeCreated      int64            `json:"timeCreated"`
	TimeLastModified int64            `json:"timeLastModified"`
	Shapes           map[string]Shape `json:"shapes"`
	AllowedUsers     []UserSummary    `json:"allowedUsers"`
}

type WhiteboardView struct {
	Id       string       `json:"id"`
	Name     string       `json:"name"`
	Canvases []CanvasView `json:"canvases"`
}

// View copies the document tree into a client view. Canvases are ordered by
// creation time, then id.
func (w *Whiteboard) View() WhiteboardView {
	canvases := make([]CanvasView, 0, len(w.Canvases))
	for _, c := range w.Canvases {
		canvases = append(canvases, w.CanvasView(c))
	}
	sort.Slice(canvases, func(i, j int) bool {
		if canvases[i].TimeCreated != canvases[j].TimeCreated {
			return canvases[i].TimeCreated < canvases[j].TimeCreated
		}
		return canvases[i].Id < canvases[j].Id
	})

	return WhiteboardView{
		Id:       w.Id,
		Name:     w.Name,
		Canvases: canvases,
	}
}

func (w *Whiteboard) CanvasView(c *Canvas) CanvasView {
	shapes := make(map[string]Shape, len(c.Shapes))
	for id, s := range c.Shapes {
		shapes[id] = s
	}

	return CanvasView{
		Id:               c.Id,
		Name:             c.Name,
		Width:            c.Width,
		Height:           c.Height,
		TimeCreated:      c.TimeCreated,
		TimeLastModified: c.TimeLastModified,
		Shapes:           shapes,
		AllowedUsers:     w.Summaries(c.AllowedUserIds()),
	}
}

// Summaries projects user ids to summaries. It never returns nil.
func (w *Whiteboard) Summaries(userIds []string) []UserSummary {
	out := make([]UserSummary, 0, len(userIds))
	for _, id := range userIds {
		out = append(out, w.UserSummaryFor(id))
	}
	return out
}

package models

import (
	"sort"

	"github.com/gofrs/uuid/v5"
)

type User struct {
	Id       string
	Username string
	Email    string
}

func (u User) Summary() UserSummary {
	return UserSummary{UserId: u.Id, Username: u.Username}
}

// UserSummary is the identity shown in presence and allow-lists.
type UserSummary struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
}

// NewId returns a time-ordered UUIDv7 string used for every durable id.
func NewId() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type Canvas struct {
	Id               string
	Name             string
	Width            int
	Height           int
	TimeCreated      int64 // unix millis
	TimeLastModified int64
	Shapes           map[string]Shape
	// AllowedUsers restricts mutation to the listed user ids. nil means open.
	AllowedUsers map[string]struct{}
}

func NewCanvas(id, name string, width, height int, now int64, allowedUsers []string) *Canvas {
	return &Canvas{
		Id:               id,
		Name:             name,
		Width:            width,
		Height:           height,
		TimeCreated:      now,
		TimeLastModified: now,
		Shapes:           make(map[string]Shape),
		AllowedUsers:     toSet(allowedUsers),
	}
}

// AllowsUser reports whether userId may mutate the canvas.
func (c *Canvas) AllowsUser(userId string) bool {
	if c.AllowedUsers == nil {
		return true
	}
	_, ok := c.AllowedUsers[userId]
	return ok
}

// SetAllowedUsers replaces the allow-list. An empty list opens the canvas.
func (c *Canvas) SetAllowedUsers(userIds []string) {
	c.AllowedUsers = toSet(userIds)
}

// AllowedUserIds returns the sorted allow-list, or nil for an open canvas.
func (c *Canvas) AllowedUserIds() []string {
	if c.AllowedUsers == nil {
		return nil
	}
	ids := make([]string, 0, len(c.AllowedUsers))
	for id := range c.AllowedUsers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Canvas) Record() CanvasRecord {
	return CanvasRecord{
		Id:               c.Id,
		Name:             c.Name,
		Width:            c.Width,
		Height:           c.Height,
		TimeCreated:      c.TimeCreated,
		TimeLastModified: c.TimeLastModified,
		AllowedUsers:     c.AllowedUserIds(),
	}
}

// CanvasRecord is a canvas without its shapes, as persisted and replayed.
type CanvasRecord struct {
	Id               string   `json:"id"`
	Name             string   `json:"name"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	TimeCreated      int64    `json:"timeCreated"`
	TimeLastModified int64    `json:"timeLastModified"`
	AllowedUsers     []string `json:"allowedUsers"`
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

package dynamo

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/zlnvch/boardsync/models"
)

// Single-table layout, one partition per whiteboard:
//
//	WHITEBOARD#<wid>  META
//	WHITEBOARD#<wid>  CANVAS#<cid>
//	WHITEBOARD#<wid>  SHAPE#<cid>#<sid>
//	USER#<uid>        PROFILE
const (
	whiteboardPrefix = "WHITEBOARD#"
	userPrefix       = "USER#"
	metaSK           = "META"
	profileSK        = "PROFILE"
	canvasPrefix     = "CANVAS#"
	shapePrefix      = "SHAPE#"
)

func whiteboardPK(whiteboardId string) string { return whiteboardPrefix + whiteboardId }
func userPK(userId string) string             { return userPrefix + userId }
func canvasSK(canvasId string) string         { return canvasPrefix + canvasId }
func shapeSK(canvasId, shapeId string) string { return shapePrefix + canvasId + "#" + shapeId }
func canvasShapesPrefix(canvasId string) string {
	return shapePrefix + canvasId + "#"
}

type dynamoUser struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	Id       string `dynamodbav:"Id"`
	Username string `dynamodbav:"Username"`
	Email    string `dynamodbav:"Email"`
}

func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:       du.Id,
		Username: du.Username,
		Email:    du.Email,
	}
}

type dynamoPermission struct {
	Type   string `dynamodbav:"Type"`
	UserId string `dynamodbav:"UserId,omitempty"`
	Email  string `dynamodbav:"Email,omitempty"`
	Tier   string `dynamodbav:"Tier"`
}

type dynamoWhiteboard struct {
	PK          string             `dynamodbav:"PK"`
	SK          string             `dynamodbav:"SK"`
	Id          string             `dynamodbav:"Id"`
	Name        string             `dynamodbav:"Name"`
	OwnerId     string             `dynamodbav:"OwnerId"`
	Created     int64              `dynamodbav:"Created"`
	SharedUsers []dynamoPermission `dynamodbav:"SharedUsers"`
}

func permissionsFromDynamo(dps []dynamoPermission) ([]models.Permission, error) {
	perms := make([]models.Permission, 0, len(dps))
	for _, dp := range dps {
		tier, err := models.ParseTier(strings.ToLower(dp.Tier))
		if err != nil {
			return nil, err
		}
		perms = append(perms, models.Permission{
			Type:   models.PrincipalType(dp.Type),
			UserId: dp.UserId,
			Email:  dp.Email,
			Tier:   tier,
		})
	}
	return perms, nil
}

type dynamoCanvas struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	Id       string `dynamodbav:"Id"`
	Name     string `dynamodbav:"Name"`
	Width    int    `dynamodbav:"Width"`
	Height   int    `dynamodbav:"Height"`
	Created  int64  `dynamodbav:"Created"`
	Modified int64  `dynamodbav:"Modified"`
	// Absent for an open canvas.
	AllowedUsers []string `dynamodbav:"AllowedUsers,omitempty"`
}

func canvasToDynamo(whiteboardId string, c models.CanvasRecord) dynamoCanvas {
	return dynamoCanvas{
		PK:           whiteboardPK(whiteboardId),
		SK:           canvasSK(c.Id),
		Id:           c.Id,
		Name:         c.Name,
		Width:        c.Width,
		Height:       c.Height,
		Created:      c.TimeCreated,
		Modified:     c.TimeLastModified,
		AllowedUsers: c.AllowedUsers,
	}
}

func canvasFromDynamo(dc dynamoCanvas) *models.Canvas {
	c := models.NewCanvas(dc.Id, dc.Name, dc.Width, dc.Height, dc.Created, dc.AllowedUsers)
	c.TimeLastModified = dc.Modified
	return c
}

type dynamoShape struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	CanvasId     string `dynamodbav:"CanvasId"`
	ShapeId      string `dynamodbav:"ShapeId"`
	ShapeType    string `dynamodbav:"ShapeType"`
	ShapeContent []byte `dynamodbav:"ShapeContent"`
	Modified     int64  `dynamodbav:"Modified"`
}

func shapeToDynamo(whiteboardId, canvasId, shapeId string, shape models.Shape, modified int64) (dynamoShape, error) {
	content, err := json.Marshal(shape)
	if err != nil {
		return dynamoShape{}, fmt.Errorf("encode shape %s: %w", shapeId, err)
	}
	return dynamoShape{
		PK:           whiteboardPK(whiteboardId),
		SK:           shapeSK(canvasId, shapeId),
		CanvasId:     canvasId,
		ShapeId:      shapeId,
		ShapeType:    string(shape.Model.ShapeType()),
		ShapeContent: content,
		Modified:     modified,
	}, nil
}

func shapeFromDynamo(ds dynamoShape) (models.Shape, error) {
	var shape models.Shape
	if err := json.Unmarshal(ds.ShapeContent, &shape); err != nil {
		return models.Shape{}, fmt.Errorf("decode shape %s: %w", ds.ShapeId, err)
	}
	return shape, nil
}

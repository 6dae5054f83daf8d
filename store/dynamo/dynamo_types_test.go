package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/boardsync/models"
)

func TestShapeDynamoRoundTrip(t *testing.T) {
	shape := models.NewShape(models.Text{X: 1, Y: 2, Width: 30, Height: 10, Text: "hello", FontSize: 12, Color: "#111"})

	ds, err := shapeToDynamo("wb1", "c1", "s1", shape, 42)
	require.NoError(t, err)
	assert.Equal(t, "WHITEBOARD#wb1", ds.PK)
	assert.Equal(t, "SHAPE#c1#s1", ds.SK)
	assert.Equal(t, "text", ds.ShapeType)

	av, err := attributevalue.MarshalMap(ds)
	require.NoError(t, err)
	var back dynamoShape
	require.NoError(t, attributevalue.UnmarshalMap(av, &back))

	got, err := shapeFromDynamo(back)
	require.NoError(t, err)
	assert.Equal(t, shape, got)
}

func TestShapeToDynamo_EmptyShape(t *testing.T) {
	_, err := shapeToDynamo("wb1", "c1", "s1", models.Shape{}, 0)
	assert.Error(t, err)
}

func TestCanvasDynamo_OpenCanvasOmitsAllowList(t *testing.T) {
	open := canvasToDynamo("wb1", models.CanvasRecord{Id: "c1", Width: 10, Height: 20, TimeCreated: 5, TimeLastModified: 6})
	av, err := attributevalue.MarshalMap(open)
	require.NoError(t, err)
	_, present := av["AllowedUsers"]
	assert.False(t, present)

	c := canvasFromDynamo(open)
	assert.Nil(t, c.AllowedUsers)
	assert.Equal(t, int64(6), c.TimeLastModified)

	restricted := canvasToDynamo("wb1", models.CanvasRecord{Id: "c2", AllowedUsers: []string{"u1"}})
	assert.True(t, canvasFromDynamo(restricted).AllowsUser("u1"))
	assert.False(t, canvasFromDynamo(restricted).AllowsUser("u2"))
}

func TestPermissionsFromDynamo(t *testing.T) {
	perms, err := permissionsFromDynamo([]dynamoPermission{
		{Type: "user", UserId: "u1", Tier: "Edit"},
		{Type: "email", Email: "a@b.c", Tier: "view"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Permission{
		{Type: models.PrincipalUser, UserId: "u1", Tier: models.TierEdit},
		{Type: models.PrincipalEmail, Email: "a@b.c", Tier: models.TierView},
	}, perms)

	_, err = permissionsFromDynamo([]dynamoPermission{{Type: "user", UserId: "u1", Tier: "admin"}})
	assert.Error(t, err)
}

func TestReferencedUsers(t *testing.T) {
	perms := []models.Permission{
		{Type: models.PrincipalUser, UserId: "u2", Tier: models.TierEdit},
		{Type: models.PrincipalEmail, Email: "x@y.z", Tier: models.TierView},
	}
	wb := models.NewWhiteboard("wb1", "Board", "owner", perms)
	wb.Canvases["c1"] = models.NewCanvas("c1", "", 1, 1, 0, []string{"u3", "u2"})

	assert.Equal(t, []string{"owner", "u2", "u3"}, referencedUsers(wb, perms))
}

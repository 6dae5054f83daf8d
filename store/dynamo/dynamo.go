package dynamo

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/store"
)

type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(tables, tableName) {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, userPK(userId), profileSK, false)
	if err != nil {
		return models.User{}, err
	}
	return userFromDynamo(du), nil
}

// LoadWhiteboard reads the whole whiteboard partition in one query and
// resolves the users it references into the whiteboard's directory.
func (dynamoStore *DynamoStore) LoadWhiteboard(ctx context.Context, whiteboardId string) (*models.Whiteboard, error) {
	items, err := queryItemsByPK(dynamoStore, ctx, whiteboardPK(whiteboardId), "", true)
	if err != nil {
		return nil, err
	}

	var meta *dynamoWhiteboard
	var canvases []dynamoCanvas
	var shapes []dynamoShape
	for _, item := range items {
		sk, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}

		switch {
		case sk.Value == metaSK:
			var dw dynamoWhiteboard
			if err := attributevalue.UnmarshalMap(item, &dw); err != nil {
				return nil, fmt.Errorf("failed to unmarshal whiteboard: %w", err)
			}
			meta = &dw
		case strings.HasPrefix(sk.Value, canvasPrefix):
			var dc dynamoCanvas
			if err := attributevalue.UnmarshalMap(item, &dc); err != nil {
				return nil, fmt.Errorf("failed to unmarshal canvas: %w", err)
			}
			canvases = append(canvases, dc)
		case strings.HasPrefix(sk.Value, shapePrefix):
			var ds dynamoShape
			if err := attributevalue.UnmarshalMap(item, &ds); err != nil {
				return nil, fmt.Errorf("failed to unmarshal shape: %w", err)
			}
			shapes = append(shapes, ds)
		}
	}

	if meta == nil {
		return nil, store.ErrItemNotFound
	}

	perms, err := permissionsFromDynamo(meta.SharedUsers)
	if err != nil {
		return nil, fmt.Errorf("whiteboard %s: %w", whiteboardId, err)
	}

	wb := models.NewWhiteboard(meta.Id, meta.Name, meta.OwnerId, perms)
	wb.TimeCreated = meta.Created

	for _, dc := range canvases {
		c := canvasFromDynamo(dc)
		wb.Canvases[c.Id] = c
	}

	for _, ds := range shapes {
		c, ok := wb.Canvases[ds.CanvasId]
		if !ok {
			// Left behind by a replayed insert after its canvas was deleted.
			continue
		}
		shape, err := shapeFromDynamo(ds)
		if err != nil {
			logging.Warn().Err(err).Str("whiteboard_id", whiteboardId).Msg("Skipping unreadable shape")
			continue
		}
		c.Shapes[ds.ShapeId] = shape
		if ds.Modified > c.TimeLastModified {
			c.TimeLastModified = ds.Modified
		}
	}

	users, err := dynamoStore.getUsers(ctx, referencedUsers(wb, perms))
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		wb.AddUser(u.Summary())
	}

	return wb, nil
}

func referencedUsers(wb *models.Whiteboard, perms []models.Permission) []string {
	seen := map[string]struct{}{wb.OwnerId: {}}
	for _, p := range perms {
		if p.Type == models.PrincipalUser && p.UserId != "" {
			seen[p.UserId] = struct{}{}
		}
	}
	for _, c := range wb.Canvases {
		for id := range c.AllowedUsers {
			seen[id] = struct{}{}
		}
	}
	delete(seen, "")

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (dynamoStore *DynamoStore) getUsers(ctx context.Context, userIds []string) ([]models.User, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(userIds))
	for _, id := range userIds {
		keys = append(keys, itemKey(userPK(id), profileSK))
	}

	dus, err := batchGetItems[dynamoUser](dynamoStore, ctx, keys)
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(dus))
	for _, du := range dus {
		users = append(users, userFromDynamo(du))
	}
	return users, nil
}

func (dynamoStore *DynamoStore) CreateCanvas(ctx context.Context, whiteboardId string, canvas models.CanvasRecord) error {
	_, err := putItemIfAbsent(dynamoStore, ctx, canvasToDynamo(whiteboardId, canvas))
	return err
}

// DeleteCanvases removes each canvas and every shape under it. Missing
// canvases are ignored.
func (dynamoStore *DynamoStore) DeleteCanvases(ctx context.Context, whiteboardId string, canvasIds []string) error {
	pk := whiteboardPK(whiteboardId)
	for _, canvasId := range canvasIds {
		if err := batchDeleteByPrefix(dynamoStore, ctx, pk, canvasShapesPrefix(canvasId)); err != nil {
			return fmt.Errorf("delete shapes of canvas %s: %w", canvasId, err)
		}
	}

	for i := 0; i < len(canvasIds); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(canvasIds))
		requests := make([]types.WriteRequest, 0, end-i)
		for _, canvasId := range canvasIds[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: itemKey(pk, canvasSK(canvasId))},
			})
		}
		if err := writeBatchRequests(dynamoStore, ctx, requests); err != nil {
			return fmt.Errorf("delete canvases: %w", err)
		}
	}

	return nil
}

// InsertShape does not overwrite an existing shape, so a replayed insert
// cannot clobber a later update.
func (dynamoStore *DynamoStore) InsertShape(ctx context.Context, whiteboardId string, canvasId string, shapeId string, shape models.Shape, modified int64) error {
	ds, err := shapeToDynamo(whiteboardId, canvasId, shapeId, shape, modified)
	if err != nil {
		return err
	}
	_, err = putItemIfAbsent(dynamoStore, ctx, ds)
	return err
}

func (dynamoStore *DynamoStore) ReplaceShape(ctx context.Context, whiteboardId string, canvasId string, shapeId string, shape models.Shape, modified int64) error {
	ds, err := shapeToDynamo(whiteboardId, canvasId, shapeId, shape, modified)
	if err != nil {
		return err
	}
	return putItem(dynamoStore, ctx, ds)
}

// UpdateCanvasAllowedUsers returns store.ErrItemNotFound if the canvas is gone.
func (dynamoStore *DynamoStore) UpdateCanvasAllowedUsers(ctx context.Context, whiteboardId string, canvasId string, allowedUsers []string, modified int64) error {
	dc := dynamoCanvas{
		PK:           whiteboardPK(whiteboardId),
		SK:           canvasSK(canvasId),
		Modified:     modified,
		AllowedUsers: allowedUsers,
	}
	return updateItem(dynamoStore, ctx, dc, []string{"AllowedUsers", "Modified"})
}

package mongodb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

// ActivityRepository reads the conversations an operator handled recently,
// open and archived alike.
type ActivityRepository interface {
	WindowConversations(ctx context.Context, since time.Time, operatorIDs []string) ([]models.WindowConversation, error)
}

type activityRepo struct {
	chats            *mongo.Collection
	archivedChats    *mongo.Collection
	messages         *mongo.Collection
	archivedMessages *mongo.Collection
}

func NewActivityRepository(db *DB) ActivityRepository {
	return &activityRepo{
		chats:            db.Database.Collection(collChats),
		archivedChats:    db.Database.Collection(collArchivedChats),
		messages:         db.Database.Collection(collMessages),
		archivedMessages: db.Database.Collection(collArchivedMessages),
	}
}

type chatRef struct {
	ID         int64  `bson:"_id"`
	OperatorID string `bson:"operator_id"`
}

func (r *activityRepo) WindowConversations(ctx context.Context, since time.Time, operatorIDs []string) ([]models.WindowConversation, error) {
	if len(operatorIDs) == 0 {
		return nil, nil
	}
	filter := windowFilter(since, operatorIDs)

	var open, archived []chatRef
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		open, err = findChatRefs(gctx, r.chats, filter)
		return err
	})
	g.Go(func() error {
		var err error
		archived, err = findChatRefs(gctx, r.archivedChats, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var openMsgs, archivedMsgs map[int64][]models.Message
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		openMsgs, err = findMessagesByChat(gctx, r.messages, open)
		return err
	})
	g.Go(func() error {
		var err error
		archivedMsgs, err = findMessagesByChat(gctx, r.archivedMessages, archived)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.WindowConversation, 0, len(open)+len(archived))
	for _, c := range open {
		out = append(out, models.WindowConversation{ChatID: c.ID, OperatorID: c.OperatorID, Messages: openMsgs[c.ID]})
	}
	for _, c := range archived {
		out = append(out, models.WindowConversation{ChatID: c.ID, OperatorID: c.OperatorID, Messages: archivedMsgs[c.ID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// windowFilter selects conversations of the pool started at or after since.
func windowFilter(since time.Time, operatorIDs []string) bson.M {
	return bson.M{
		"operator_id": bson.M{"$in": operatorIDs},
		"created_at":  bson.M{"$gte": since},
	}
}

func chatMessagesFilter(chats []chatRef) bson.M {
	ids := make([]int64, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	return bson.M{"chat_id": bson.M{"$in": ids}}
}

func findChatRefs(ctx context.Context, coll *mongo.Collection, filter bson.M) ([]chatRef, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1, "operator_id": 1})
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find window conversations in %s: %w", coll.Name(), err)
	}
	return decodeAll[chatRef](ctx, cursor)
}

func findMessagesByChat(ctx context.Context, coll *mongo.Collection, chats []chatRef) (map[int64][]models.Message, error) {
	out := make(map[int64][]models.Message, len(chats))
	if len(chats) == 0 {
		return out, nil
	}
	opts := options.Find().SetSort(messageOrder)
	cursor, err := coll.Find(ctx, chatMessagesFilter(chats), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find window messages in %s: %w", coll.Name(), err)
	}
	msgs, err := decodeAll[models.Message](ctx, cursor)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ChatID] = append(out[m.ChatID], m)
	}
	return out, nil
}

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/eventrelay/internal/eventbus"
)

// InboxStoreMongoDB guarda qué handler ha procesado qué evento.
// Un índice único sobre (eventId, handler) hace de guarda ante entregas duplicadas.
type InboxStoreMongoDB struct {
	coll *mongo.Collection
}

func NewInboxStoreMongoDB(client *mongo.Client, dbName string) *InboxStoreMongoDB {
	return &InboxStoreMongoDB{coll: client.Database(dbName).Collection("processed_events")}
}

// mongoInboxRecord mapea los documentos de la colección.
type mongoInboxRecord struct {
	EventID     string    `bson:"eventId"`
	Handler     string    `bson:"handler"`
	ProcessedAt time.Time `bson:"processedAt"`
}

// EnsureIndexes crea el índice único; es seguro llamarlo en cada arranque.
func (s *InboxStoreMongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "eventId", Value: 1}, {Key: "handler", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_event_handler"),
	})
	if err != nil {
		return fmt.Errorf("create inbox index: %w", err)
	}
	return nil
}

func (s *InboxStoreMongoDB) Processed(ctx context.Context, eventID uuid.UUID, handler string) (bool, error) {
	err := s.coll.FindOne(ctx, bson.M{"eventId": eventID.String(), "handler": handler}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *InboxStoreMongoDB) MarkProcessed(ctx context.Context, eventID uuid.UUID, handler string) error {
	_, err := s.coll.InsertOne(ctx, mongoInboxRecord{
		EventID:     eventID.String(),
		Handler:     handler,
		ProcessedAt: time.Now().UTC(),
	})
	// otra réplica ya lo registró: el resultado es el mismo
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Verificación en tiempo de compilación.
var _ eventbus.Inbox = (*InboxStoreMongoDB)(nil)

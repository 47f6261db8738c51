package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"capturekit/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoGateway maps the gateway operations onto native upserts with
// $set / $setOnInsert and unordered bulk writes.
type MongoGateway struct {
	client *mongo.Client
	db     *mongo.Database
}

func OpenMongo(ctx context.Context, uri, dbName string) (*MongoGateway, error) {
	if uri == "" || dbName == "" {
		return nil, fmt.Errorf("mongo uri and database name are required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	g := &MongoGateway{client: client, db: client.Database(dbName)}
	if err := g.ensureIndexes(connectCtx); err != nil {
		logger.Warn("Could not create mongo indexes: %v", err)
	}
	logger.Info("Connected to mongo database %s", dbName)
	return g, nil
}

func (g *MongoGateway) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		RawCommentsCollection:        {{Keys: bson.D{{Key: "id", Value: 1}, {Key: "noteId", Value: 1}}, Options: unique}},
		StructuredCommentsCollection: {{Keys: bson.D{{Key: "commentId", Value: 1}}, Options: unique}, {Keys: bson.D{{Key: "authorId", Value: 1}}}, {Keys: bson.D{{Key: "repliedId", Value: 1}}}},
		NotesCollection:              {{Keys: bson.D{{Key: "noteId", Value: 1}}, Options: unique}},
		UsersCollection:              {{Keys: bson.D{{Key: "userId", Value: 1}}, Options: unique}},
		NotificationsCollection:      {{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique}},
		ExchangesCollection:          {{Keys: bson.D{{Key: "requestId", Value: 1}}, Options: unique}},
		AnnotationsCollection:        {{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "annotationKey", Value: 1}}, Options: unique}},
	}
	var errs []error
	for coll, models := range indexes {
		if _, err := g.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", coll, err))
		}
	}
	return errors.Join(errs...)
}

func (g *MongoGateway) Name() string { return "mongo" }

func (g *MongoGateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx, nil)
}

func (g *MongoGateway) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}

// bsonValue stores integral JSON numbers as int64 so they round-trip back
// into Go int fields.
func bsonValue(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case map[string]any:
		m := bson.M{}
		for k, inner := range t {
			m[k] = bsonValue(inner)
		}
		return m
	case Document:
		return bsonValue(map[string]any(t))
	case []any:
		out := make(bson.A, len(t))
		for i, inner := range t {
			out[i] = bsonValue(inner)
		}
		return out
	default:
		return v
	}
}

func bsonDoc(doc Document) bson.M {
	m := bson.M{}
	for k, v := range doc {
		m[k] = bsonValue(v)
	}
	return m
}

func mongoFilter(filter Filter) bson.M {
	m := bson.M{}
	for k, v := range filter {
		if in, ok := v.(In); ok {
			vals := make(bson.A, len(in))
			for i, inner := range in {
				vals[i] = bsonValue(inner)
			}
			m[k] = bson.M{"$in": vals}
			continue
		}
		m[k] = bsonValue(v)
	}
	return m
}

func mongoUpdate(filter Filter, update Update) bson.M {
	doc := bson.M{}
	if len(update.Set) > 0 {
		doc["$set"] = bsonDoc(update.Set)
	}
	onInsert := bson.M{}
	for k, v := range update.SetOnInsert {
		if _, inSet := update.Set[k]; !inSet {
			onInsert[k] = bsonValue(v)
		}
	}
	if len(onInsert) > 0 {
		doc["$setOnInsert"] = onInsert
	}
	if len(doc) == 0 {
		// An upsert needs at least one operator; re-setting the key is a no-op.
		doc["$setOnInsert"] = bsonDoc(insertBody(filter, Update{}))
	}
	return doc
}

func (g *MongoGateway) UpsertOne(ctx context.Context, collection string, filter Filter, update Update) (UpsertResult, error) {
	if err := validateFilter(filter, true); err != nil {
		return UpsertResult{}, err
	}
	if err := validateUpdate(update); err != nil {
		return UpsertResult{}, err
	}
	res, err := g.db.Collection(collection).UpdateOne(ctx, mongoFilter(filter), mongoUpdate(filter, update), options.Update().SetUpsert(true))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return UpsertResult{Inserted: res.UpsertedCount > 0}, nil
}

func (g *MongoGateway) BulkUpsert(ctx context.Context, collection string, writes []WriteModel) (BulkResult, error) {
	var out BulkResult
	if len(writes) == 0 {
		return out, nil
	}
	models := make([]mongo.WriteModel, 0, len(writes))
	for i, w := range writes {
		if err := validateFilter(w.Filter, true); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Errorf("write %d: %w", i, err))
			continue
		}
		if err := validateUpdate(w.Update); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Errorf("write %d: %w", i, err))
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(mongoFilter(w.Filter)).
			SetUpdate(mongoUpdate(w.Filter, w.Update)).
			SetUpsert(true))
	}
	if len(models) == 0 {
		return out, nil
	}

	res, err := g.db.Collection(collection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if res != nil {
		out.Upserted += int(res.UpsertedCount)
		out.Matched += int(res.MatchedCount)
	}
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			for _, we := range bwe.WriteErrors {
				out.Failed++
				out.Errors = append(out.Errors, fmt.Errorf("write %d: %s", we.Index, we.Message))
			}
			return out, nil
		}
		out.Failed += len(models)
		out.Errors = append(out.Errors, err)
		return out, fmt.Errorf("bulk upsert on %s: %w", collection, err)
	}
	return out, nil
}

// decodeInto renders raw documents as relaxed extended JSON and decodes
// them through the same JSON tags the SQLite backend uses.
func decodeInto(docs []bson.M, out any, single bool) error {
	parts := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		delete(d, "_id")
		b, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return fmt.Errorf("rendering document: %w", err)
		}
		parts = append(parts, b)
	}
	if single {
		return json.Unmarshal(parts[0], out)
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (g *MongoGateway) FindOne(ctx context.Context, collection string, filter Filter, out any) (bool, error) {
	if err := validateFilter(filter, false); err != nil {
		return false, err
	}
	var doc bson.M
	err := g.db.Collection(collection).FindOne(ctx, mongoFilter(filter), options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", collection, err)
	}
	if err := decodeInto([]bson.M{doc}, out, true); err != nil {
		return true, fmt.Errorf("decoding %s document: %w", collection, err)
	}
	return true, nil
}

func (g *MongoGateway) Find(ctx context.Context, collection string, filter Filter, out any) error {
	if err := validateFilter(filter, false); err != nil {
		return err
	}
	cur, err := g.db.Collection(collection).Find(ctx, mongoFilter(filter), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("querying %s: %w", collection, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return fmt.Errorf("reading %s cursor: %w", collection, err)
	}
	if err := decodeInto(docs, out, false); err != nil {
		return fmt.Errorf("decoding %s documents: %w", collection, err)
	}
	return nil
}

var _ Gateway = (*MongoGateway)(nil)

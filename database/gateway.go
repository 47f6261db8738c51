package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Collection names shared by every backend.
const (
	RawCommentsCollection        = "raw_comments"
	StructuredCommentsCollection = "structured_comments"
	NotesCollection              = "notes"
	UsersCollection              = "users"
	NotificationsCollection      = "notifications"
	ExchangesCollection          = "exchanges"
	AnnotationsCollection        = "annotations"
)

// Filter matches documents by top-level field equality. A nil value matches
// a missing or null field; an In value matches any of its members.
type Filter map[string]any

// In is a filter value matching any of the listed values.
type In []any

// Document is a JSON-shaped record as stored by a backend.
type Document map[string]any

// Update is applied by an upsert. Set is written on every call, SetOnInsert
// only when the upsert creates the document. A key present in both is
// taken from Set.
type Update struct {
	Set         Document
	SetOnInsert Document
}

type WriteModel struct {
	Filter Filter
	Update Update
}

type UpsertResult struct {
	Inserted bool
}

// BulkResult counts the outcome of an unordered bulk upsert. Failed
// operations do not stop the remaining ones.
type BulkResult struct {
	Upserted int
	Matched  int
	Failed   int
	Errors   []error
}

// Gateway is the document store used by the pipeline.
type Gateway interface {
	UpsertOne(ctx context.Context, collection string, filter Filter, update Update) (UpsertResult, error)
	BulkUpsert(ctx context.Context, collection string, writes []WriteModel) (BulkResult, error)
	// FindOne decodes the first matching document into out and reports
	// whether one was found.
	FindOne(ctx context.Context, collection string, filter Filter, out any) (bool, error)
	// Find decodes every matching document, in insertion order, into the
	// slice pointed to by out.
	Find(ctx context.Context, collection string, filter Filter, out any) error
	Ping(ctx context.Context) error
	Name() string
	Close(ctx context.Context) error
}

type Options struct {
	Driver        string
	Path          string
	MongoURI      string
	MongoDatabase string
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Gateway, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite", "sqlite3":
		return OpenSQLite(ctx, opts.Path)
	case "mongo", "mongodb":
		return OpenMongo(ctx, opts.MongoURI, opts.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
}

// ToDocument converts a JSON-tagged struct into a Document.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// insertBody is the document created by an upsert that matched nothing.
func insertBody(filter Filter, update Update) Document {
	body := Document{}
	for k, v := range filter {
		if _, isIn := v.(In); !isIn {
			body[k] = v
		}
	}
	for k, v := range update.SetOnInsert {
		body[k] = v
	}
	for k, v := range update.Set {
		body[k] = v
	}
	return body
}

func validateFilter(filter Filter, forUpsert bool) error {
	if forUpsert && len(filter) == 0 {
		return fmt.Errorf("upsert filter must not be empty")
	}
	for k, v := range filter {
		if !validField(k) {
			return fmt.Errorf("invalid filter field %q", k)
		}
		if _, isIn := v.(In); isIn && forUpsert {
			return fmt.Errorf("upsert filter field %q must be an equality match", k)
		}
	}
	return nil
}

func validateUpdate(update Update) error {
	for _, doc := range []Document{update.Set, update.SetOnInsert} {
		for k := range doc {
			if !validField(k) {
				return fmt.Errorf("invalid update field %q", k)
			}
		}
	}
	return nil
}

func validField(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

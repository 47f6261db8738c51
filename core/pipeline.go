package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"capturekit/database"
	"capturekit/logger"
	"capturekit/models"

	"github.com/google/uuid"
)

// Deduper remembers exchange fingerprints across deliveries.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Pipeline classifies a captured exchange, extracts its records and
// upserts them. Every call is an independent unit of work.
type Pipeline struct {
	Store      database.Gateway
	Classifier *Classifier
	Extractors *Extractors
	// Dedup is optional. When set, an exchange whose fingerprint was seen
	// within the dedup TTL is reported as a duplicate and not re-extracted.
	Dedup Deduper
	Now   func() time.Time
}

func NewPipeline(store database.Gateway, classifier *Classifier, extractors *Extractors, dedup Deduper) *Pipeline {
	return &Pipeline{
		Store:      store,
		Classifier: classifier,
		Extractors: extractors,
		Dedup:      dedup,
		Now:        time.Now,
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Fingerprint identifies an exchange by what it captured, not by the id
// the sender assigned to it.
func Fingerprint(ex models.CapturedExchange) string {
	h := sha256.New()
	for _, part := range []string{ex.RuleLabel, ex.URL, ex.Method, ex.ResponseBody} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Process never returns an error: failures are reported in the summary and
// recorded on the stored exchange. Summary.Retryable marks failures caused
// by the store, which a redelivery may fix.
func (p *Pipeline) Process(ctx context.Context, ex models.CapturedExchange) models.ProcessingSummary {
	start := time.Now()
	if ex.RequestID == "" {
		ex.RequestID = uuid.NewString()
	}
	summary := models.ProcessingSummary{RequestID: ex.RequestID}
	finish := func() models.ProcessingSummary {
		summary.ProcessingTimeMs = time.Since(start).Milliseconds()
		return summary
	}

	fingerprint := Fingerprint(ex)
	if p.Dedup != nil {
		first, err := p.Dedup.FirstSeen(ctx, fingerprint)
		if err != nil {
			logger.Warn("Pipeline: dedup lookup for %s failed, processing anyway: %v", ex.RequestID, err)
		} else if !first {
			logger.Info("Pipeline: exchange %s already processed (fingerprint %.12s)", ex.RequestID, fingerprint)
			summary.Success = true
			summary.Duplicate = true
			return finish()
		}
	}

	extracted, saveErr := p.run(ctx, &ex, &summary)
	ex.ItemsExtracted = summary.ItemsExtracted
	ex.ItemsSaved = summary.ItemsSaved
	ex.DataKind = summary.DataKind
	ex.ProcessingError = summary.ErrorMessage
	ex.Processed = extracted
	processedAt := p.now()
	ex.ProcessedAt = &processedAt

	if err := p.recordExchange(ctx, ex); err != nil {
		logger.Error("Pipeline: storing exchange %s: %v", ex.RequestID, err)
		saveErr = errors.Join(saveErr, err)
	}
	if saveErr != nil {
		summary.Success = false
		summary.Retryable = true
		if summary.ErrorMessage == "" {
			summary.ErrorMessage = saveErr.Error()
		}
		if p.Dedup != nil {
			if err := p.Dedup.Forget(ctx, fingerprint); err != nil {
				logger.Warn("Pipeline: clearing fingerprint for %s: %v", ex.RequestID, err)
			}
		}
	}

	logger.Info("Pipeline: %s kind=%s extracted=%d dropped=%d saved=%d success=%t",
		ex.RequestID, summary.DataKind, summary.ItemsExtracted, summary.ItemsDropped, summary.ItemsSaved, summary.Success)
	return finish()
}

// run fills the summary and reports whether extraction succeeded, plus any
// store error met while saving records.
func (p *Pipeline) run(ctx context.Context, ex *models.CapturedExchange, summary *models.ProcessingSummary) (bool, error) {
	kind, err := p.Classifier.Classify(ex.RuleLabel, ex.URL)
	if err != nil {
		logger.Warn("Pipeline: %s: %v", ex.RequestID, err)
		summary.ErrorMessage = err.Error()
		return false, nil
	}
	summary.DataKind = kind

	body, err := DecodeBody([]byte(ex.ResponseBody), headerValue(ex.ResponseHeaders, "Content-Encoding"))
	if err != nil {
		summary.ErrorMessage = err.Error()
		return false, nil
	}
	res, err := p.Extractors.Extract(kind, body, ex.URL)
	if err != nil {
		if errors.Is(err, ErrUpstreamFailure) {
			logger.Warn("Pipeline: %s: %s", ex.RequestID, res.Reason)
		} else {
			logger.Warn("Pipeline: %s: extracting %s: %v", ex.RequestID, kind, err)
		}
		summary.ErrorMessage = err.Error()
		return false, nil
	}
	summary.ItemsExtracted = len(res.Records) + res.Dropped
	summary.ItemsDropped = res.Dropped

	saved, saveErr := p.saveRecords(ctx, res.Records)
	summary.ItemsSaved = saved
	summary.Success = saveErr == nil
	return true, saveErr
}

func (p *Pipeline) recordExchange(ctx context.Context, ex models.CapturedExchange) error {
	doc, err := database.ToDocument(ex)
	if err != nil {
		return err
	}
	_, err = p.Store.UpsertOne(ctx, database.ExchangesCollection,
		database.Filter{"requestId": ex.RequestID}, database.Update{Set: doc})
	return err
}

// saveRecords issues one unordered bulk upsert per collection. Per-record
// failures are counted and returned as a joined error.
func (p *Pipeline) saveRecords(ctx context.Context, records []models.Record) (int, error) {
	fetched := p.now().Format(time.RFC3339Nano)
	byCollection := make(map[string][]database.WriteModel)
	var order []string
	var errs []error

	for _, r := range records {
		coll, wm, err := recordWrite(r, fetched)
		if err != nil {
			logger.Warn("Pipeline: skipping %s record: %v", r.Kind(), err)
			errs = append(errs, err)
			continue
		}
		if _, ok := byCollection[coll]; !ok {
			order = append(order, coll)
		}
		byCollection[coll] = append(byCollection[coll], wm)
	}

	saved := 0
	for _, coll := range order {
		res, err := p.Store.BulkUpsert(ctx, coll, byCollection[coll])
		if err != nil {
			errs = append(errs, fmt.Errorf("bulk upsert into %s: %w", coll, err))
			continue
		}
		saved += res.Upserted + res.Matched
		if res.Failed > 0 {
			logger.Warn("Pipeline: %d of %d writes into %s failed", res.Failed, len(byCollection[coll]), coll)
			errs = append(errs, res.Errors...)
		}
	}
	return saved, errors.Join(errs...)
}

// recordWrite maps a record onto its collection and upsert. Empty fields
// are omitted so a sparse capture never blanks a richer stored value.
func recordWrite(r models.Record, fetched string) (string, database.WriteModel, error) {
	if r.Key() == "" {
		return "", database.WriteModel{}, fmt.Errorf("%s record: %w", r.Kind(), ErrMissingKey)
	}
	doc, err := database.ToDocument(r)
	if err != nil {
		return "", database.WriteModel{}, err
	}

	switch rec := r.(type) {
	case models.CommentRecord:
		update := database.Update{Set: doc, SetOnInsert: database.Document{}}
		delete(doc, "parentCommentId")
		if rec.ParentCommentID != "" {
			doc["repliedId"] = rec.ParentCommentID
		}
		if ts, ok := doc["timestamp"]; ok {
			delete(doc, "timestamp")
			update.SetOnInsert["timestamp"] = ts
		}
		doc["fetchTimestamp"] = fetched
		return database.StructuredCommentsCollection, database.WriteModel{
			Filter: database.Filter{"commentId": rec.CommentID},
			Update: update,
		}, nil
	case models.NoteRecord:
		return database.NotesCollection, database.WriteModel{
			Filter: database.Filter{"noteId": rec.NoteID},
			Update: database.Update{Set: doc},
		}, nil
	case models.UserRecord:
		return database.UsersCollection, database.WriteModel{
			Filter: database.Filter{"userId": rec.UserID},
			Update: database.Update{Set: doc},
		}, nil
	case models.NotificationRecord:
		return database.NotificationsCollection, database.WriteModel{
			Filter: database.Filter{"id": rec.ID},
			Update: database.Update{Set: doc},
		}, nil
	}
	return "", database.WriteModel{}, fmt.Errorf("unsupported record type %T", r)
}

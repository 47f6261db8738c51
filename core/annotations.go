package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"capturekit/database"
	"capturekit/logger"
	"capturekit/models"

	"github.com/google/uuid"
)

// AnnotationService stores user annotations and links each one to the
// comment it was written about.
type AnnotationService struct {
	Store  database.Gateway
	Linker *AnnotationLinker
	Now    func() time.Time
}

func NewAnnotationService(store database.Gateway) *AnnotationService {
	return &AnnotationService{
		Store:  store,
		Linker: NewAnnotationLinker(StoreCommentFinder{Store: store}),
		Now:    time.Now,
	}
}

func (s *AnnotationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func annotationKey(a models.UserAnnotation) database.Filter {
	return database.Filter{"userId": a.UserID, "annotationKey": a.AnnotationKey}
}

// Save upserts a by (userId, annotationKey) and links it when it is not
// linked yet. A stored link is never replaced. A linker failure is logged
// and the annotation is saved unlinked.
func (s *AnnotationService) Save(ctx context.Context, a models.UserAnnotation) (models.UserAnnotation, error) {
	a.UserID = strings.TrimSpace(a.UserID)
	if a.UserID == "" {
		return models.UserAnnotation{}, fmt.Errorf("annotation userId: %w", ErrMissingKey)
	}
	if a.AnnotationKey == "" {
		a.AnnotationKey = uuid.NewString()
	}

	var existing models.UserAnnotation
	found, err := s.Store.FindOne(ctx, database.AnnotationsCollection, annotationKey(a), &existing)
	if err != nil {
		return models.UserAnnotation{}, fmt.Errorf("loading annotation: %w", err)
	}
	a.LinkedCommentID = nil
	if found {
		a.LinkedCommentID = existing.LinkedCommentID
	}

	linked, err := s.Linker.Link(ctx, a)
	if err != nil {
		logger.Warn("AnnotationService: linking %s/%s: %v", a.UserID, a.AnnotationKey, err)
	} else {
		a = linked
	}
	a.UpdatedAt = s.now()

	doc, err := database.ToDocument(a)
	if err != nil {
		return models.UserAnnotation{}, err
	}
	if _, err := s.Store.UpsertOne(ctx, database.AnnotationsCollection, annotationKey(a), database.Update{Set: doc}); err != nil {
		return models.UserAnnotation{}, fmt.Errorf("saving annotation: %w", err)
	}
	return a, nil
}

// ListByUser returns the annotations of userID in insertion order.
func (s *AnnotationService) ListByUser(ctx context.Context, userID string) ([]models.UserAnnotation, error) {
	out := []models.UserAnnotation{}
	if err := s.Store.Find(ctx, database.AnnotationsCollection, database.Filter{"userId": userID}, &out); err != nil {
		return nil, fmt.Errorf("listing annotations of %s: %w", userID, err)
	}
	return out, nil
}

// RelinkPending runs the linker over every annotation still without a
// linked comment. Annotations that fail are counted and skipped.
func (s *AnnotationService) RelinkPending(ctx context.Context) (models.LinkResult, error) {
	var pending []models.UserAnnotation
	if err := s.Store.Find(ctx, database.AnnotationsCollection, database.Filter{"linkedCommentId": nil}, &pending); err != nil {
		return models.LinkResult{}, fmt.Errorf("finding unlinked annotations: %w", err)
	}

	var res models.LinkResult
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		if a.UserID == "" {
			logger.Warn("AnnotationService: skipping annotation %s without userId", a.AnnotationKey)
			continue
		}
		linked, err := s.Linker.Link(ctx, a)
		if err != nil {
			logger.Error("AnnotationService: linking %s/%s: %v", a.UserID, a.AnnotationKey, err)
			res.Failed++
			continue
		}
		if linked.LinkedCommentID == nil {
			continue
		}
		_, err = s.Store.UpsertOne(ctx, database.AnnotationsCollection, annotationKey(a), database.Update{
			Set: database.Document{
				"linkedCommentId": *linked.LinkedCommentID,
				"updatedAt":       s.now().Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			logger.Error("AnnotationService: saving link for %s/%s: %v", a.UserID, a.AnnotationKey, err)
			res.Failed++
			continue
		}
		logger.Info("AnnotationService: linked %s/%s to comment %s", a.UserID, a.AnnotationKey, *linked.LinkedCommentID)
		res.Linked++
	}
	return res, nil
}

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"capturekit/config"
	"capturekit/database"
	"capturekit/logger"
)

// Services wires the store into every component the commands and the HTTP
// API use.
type Services struct {
	Store       database.Gateway
	Classifier  *Classifier
	Pipeline    *Pipeline
	Comments    *CommentService
	Annotations *AnnotationService
	History     *HistoryService

	dedup *database.RedisDeduper
}

// NewServices builds the components around an open store.
func NewServices(store database.Gateway, classifier *Classifier, dedup Deduper, maxDepth int) *Services {
	times := NewTimeNormalizer()
	return &Services{
		Store:       store,
		Classifier:  classifier,
		Pipeline:    NewPipeline(store, classifier, NewExtractors(times), dedup),
		Comments:    NewCommentService(store, times, maxDepth),
		Annotations: NewAnnotationService(store),
		History:     NewHistoryService(store),
	}
}

// OpenServices opens the configured store, rule table and optional Redis
// deduper.
func OpenServices(ctx context.Context, cfg config.Configuration) (*Services, error) {
	classifier, err := ClassifierFromFile(cfg.Classifier.RulesFile)
	if err != nil {
		return nil, err
	}
	store, err := database.Open(ctx, database.Options{
		Driver:        cfg.Database.Driver,
		Path:          cfg.Database.Path,
		MongoURI:      cfg.Database.MongoURI,
		MongoDatabase: cfg.Database.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	logger.Info("Store opened: %s", store.Name())

	var redisDedup *database.RedisDeduper
	if cfg.Redis.Enabled {
		redisDedup, err = database.NewRedisDeduper(ctx, database.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TTL:       time.Duration(cfg.Redis.TTLSeconds) * time.Second,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			store.Close(ctx)
			return nil, err
		}
		logger.Info("Exchange de-duplication enabled via redis at %s", cfg.Redis.Addr)
	}

	var dedup Deduper
	if redisDedup != nil {
		dedup = redisDedup
	}
	s := NewServices(store, classifier, dedup, cfg.Ingest.MaxCommentDepth)
	s.dedup = redisDedup
	return s, nil
}

func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.dedup != nil {
		errs = append(errs, s.dedup.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close(ctx))
	}
	return errors.Join(errs...)
}

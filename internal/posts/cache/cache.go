package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"persona-poster/internal/posts"
)

const (
	cbTimeout = time.Second * 3
)

// Service is a small key/value layer over the agent.cache collection. It
// holds the last-post marker and the cached home timeline, keyed by
// <platform>/<account>/<purpose>.
type Service struct {
	bucket     string
	cluster    *gocb.Cluster
	collection *gocb.Collection
	logger     *zap.Logger
}

func NewService(logger *zap.Logger, cluster *gocb.Cluster, bucket string) (*Service, error) {
	s := Service{
		bucket:  bucket,
		cluster: cluster,
		logger:  logger,
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	if err := s.setCollection(); err != nil {
		return nil, fmt.Errorf("unable to set collection: %w", err)
	}

	return &s, nil
}

func (s *Service) validate() error {
	var missingDeps []string

	for _, tc := range []struct {
		dep string
		chk func() bool
	}{
		{
			dep: "logger",
			chk: func() bool { return s.logger != nil },
		},
		{
			dep: "cluster",
			chk: func() bool { return s.cluster != nil },
		},
		{
			dep: "bucket",
			chk: func() bool { return s.bucket != "" },
		},
	} {
		if !tc.chk() {
			missingDeps = append(missingDeps, tc.dep)
		}
	}

	if len(missingDeps) > 0 {
		return fmt.Errorf(
			"unable to initialize service due to (%d) missing dependencies: %s",
			len(missingDeps),
			strings.Join(missingDeps, ","),
		)
	}

	return nil
}

// Get reads the document stored under key into the value pointed to by into.
// Returns posts.ErrNotFound if no document exists for the key.
func (s *Service) Get(key string, into interface{}) error {
	logger := s.logger.With(zap.String("key", key))

	res, err := s.collection.Get(key, &gocb.GetOptions{Timeout: cbTimeout})
	if err != nil {
		if errors.Is(err, gocb.ErrDocumentNotFound) {
			return posts.ErrNotFound
		}
		const msg = "unable to get cache document"
		logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	if err := res.Content(into); err != nil {
		const msg = "unable to unmarshal cache document"
		logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	return nil
}

// Set stores value under key, overwriting any existing document
func (s *Service) Set(key string, value interface{}) error {
	logger := s.logger.With(zap.String("key", key))

	opts := gocb.UpsertOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         cbTimeout,
	}
	if _, err := s.collection.Upsert(key, value, &opts); err != nil {
		const msg = "unable to upsert cache document"
		logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	logger.Debug("successfully stored cache document")

	return nil
}

func (s *Service) setCollection() error {
	bucket := s.cluster.Bucket(s.bucket)
	if err := bucket.WaitUntilReady(cbTimeout, nil); err != nil {
		return fmt.Errorf("unable to wait for bucket to be ready: %w", err)
	}

	s.collection = bucket.Scope(posts.CouchbaseScope).Collection(posts.CacheCollection)

	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"persona-poster/internal/posts"
	"persona-poster/internal/posts/memory"
)

// Cache is the key/value store holding the last-post marker and the cached
// timeline
type Cache interface {
	Get(key string, into interface{}) error
	Set(key string, value interface{}) error
}

// Memory is the durable log of published content
type Memory interface {
	EnsureUserExists(id, name, username string) error
	EnsureRoomExists(id string) error
	EnsureParticipantInRoom(userID, roomID string) error
	CreateMemory(rec memory.Record) error
}

// Social is the platform client
type Social interface {
	Init() error
	FetchHomeTimeline(count int) ([]posts.TimelineEntry, error)
	SendTweet(text string) (*posts.SentPost, error)
}

// Generator produces one publishable post string
type Generator interface {
	NewPost(ctx context.Context, timeline []posts.TimelineEntry) (string, error)
}

// Config holds the per-account settings of the posting service
type Config struct {
	// Username of the posting account
	Username string

	// AgentName is the display name recorded in the memory store
	AgentName string

	// DryRun executes the full generation pipeline but suppresses the
	// publish call and its bookkeeping
	DryRun bool

	// FetchCount bounds the timeline refresh and the cached timeline size
	FetchCount int
}

// Service runs one end-to-end post cycle: refresh timeline context,
// generate, publish, record bookkeeping.
type Service struct {
	logger    *zap.Logger
	cache     Cache
	memory    Memory
	client    Social
	generator Generator
	cfg       Config
	agentID   string
}

func NewService(logger *zap.Logger, cache Cache, mem Memory, client Social, generator Generator, cfg Config) (*Service, error) {
	s := Service{
		logger:    logger,
		cache:     cache,
		memory:    mem,
		client:    client,
		generator: generator,
		cfg:       cfg,
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	if s.cfg.FetchCount <= 0 {
		s.cfg.FetchCount = 20
	}
	s.agentID = memory.AgentID(s.cfg.Username)

	s.logger.Debug("successfully initialized posting service")

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
			dep: "cache",
			chk: func() bool { return s.cache != nil },
		},
		{
			dep: "memory",
			chk: func() bool { return s.memory != nil },
		},
		{
			dep: "client",
			chk: func() bool { return s.client != nil },
		},
		{
			dep: "generator",
			chk: func() bool { return s.generator != nil },
		},
		{
			dep: "username",
			chk: func() bool { return s.cfg.Username != "" },
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

// Init sets up the underlying platform connection if absent
func (s *Service) Init() error {
	return s.client.Init()
}

// LastPost returns the last successful post marker. A zero record means the
// account has never posted.
func (s *Service) LastPost() (*posts.Record, error) {
	var rec posts.Record
	err := s.cache.Get(s.key(posts.PurposeLastPost), &rec)
	switch {
	case err == nil:
	case errors.Is(err, posts.ErrNotFound):
		return &posts.Record{}, nil
	default:
		const msg = "unable to read last post marker"
		s.logger.Error(msg, zap.Error(err))
		return nil, fmt.Errorf(msg+": %w", err)
	}

	return &rec, nil
}

// PostOnce executes a single post cycle. In dry-run mode the would-be post
// is logged and nothing is published or recorded.
func (s *Service) PostOnce(ctx context.Context) error {
	timeline, err := s.recentTimeline()
	if err != nil {
		const msg = "unable to assemble timeline context"
		s.logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	text, err := s.generator.NewPost(ctx, timeline)
	if err != nil {
		const msg = "unable to generate post"
		s.logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	if s.cfg.DryRun {
		// no last-post marker is written for a suppressed publish, so the
		// schedule stays overdue and the watchdog keeps forcing cycles
		s.logger.Info(
			"dry run, skipping publish and bookkeeping",
			zap.String("text", text),
		)
		return nil
	}

	sent, err := s.client.SendTweet(text)
	if err != nil {
		const msg = "unable to publish post"
		s.logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	logger := s.logger.With(zap.String("postId", sent.ID))
	logger.Info("published post", zap.String("url", sent.PermanentURL))

	// the post is out; bookkeeping failures are aggregated so every write
	// is attempted, and a partial failure surfaces as a failed cycle
	var berr error

	rec := posts.Record{
		ID:        sent.ID,
		Timestamp: posts.ToMillis(sent.CreatedAt),
	}
	if err := s.cache.Set(s.key(posts.PurposeLastPost), rec); err != nil {
		berr = multierr.Append(berr, fmt.Errorf("unable to record last post marker: %w", err))
	}

	if err := s.appendToTimeline(timeline, sent); err != nil {
		berr = multierr.Append(berr, fmt.Errorf("unable to update cached timeline: %w", err))
	}

	if err := s.recordMemory(sent); err != nil {
		berr = multierr.Append(berr, fmt.Errorf("unable to record memory: %w", err))
	}

	if berr != nil {
		logger.Error("post published but bookkeeping failed", zap.Error(berr))
		return berr
	}

	return nil
}

// recentTimeline returns the cached timeline, refreshing it from the
// platform when absent
func (s *Service) recentTimeline() ([]posts.TimelineEntry, error) {
	var timeline []posts.TimelineEntry
	err := s.cache.Get(s.key(posts.PurposeTimeline), &timeline)
	switch {
	case err == nil:
		return timeline, nil
	case errors.Is(err, posts.ErrNotFound):
	default:
		return nil, err
	}

	timeline, err = s.client.FetchHomeTimeline(s.cfg.FetchCount)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(s.key(posts.PurposeTimeline), timeline); err != nil {
		return nil, err
	}

	s.logger.Debug("refreshed timeline cache", zap.Int("numEntries", len(timeline)))

	return timeline, nil
}

func (s *Service) appendToTimeline(timeline []posts.TimelineEntry, sent *posts.SentPost) error {
	timeline = append(timeline, posts.TimelineEntry{
		ID:        sent.ID,
		Author:    s.cfg.Username,
		Text:      sent.Text,
		InReplyTo: sent.InReplyTo,
		Timestamp: posts.ToMillis(sent.CreatedAt),
	})

	if len(timeline) > s.cfg.FetchCount {
		timeline = timeline[len(timeline)-s.cfg.FetchCount:]
	}

	return s.cache.Set(s.key(posts.PurposeTimeline), timeline)
}

func (s *Service) recordMemory(sent *posts.SentPost) error {
	roomID := memory.RoomID(sent.ConversationID, s.agentID)

	if err := s.memory.EnsureUserExists(s.agentID, s.cfg.AgentName, s.cfg.Username); err != nil {
		return err
	}

	if err := s.memory.EnsureRoomExists(roomID); err != nil {
		return err
	}

	if err := s.memory.EnsureParticipantInRoom(s.agentID, roomID); err != nil {
		return err
	}

	rec := memory.Record{
		ID:      memory.MemoryID(sent.ID, s.agentID),
		AgentID: s.agentID,
		UserID:  s.agentID,
		RoomID:  roomID,
		Content: memory.Content{
			Text:   sent.Text,
			URL:    sent.PermanentURL,
			Source: posts.Platform,
		},
		CreatedAt: posts.ToMillis(sent.CreatedAt),
	}

	err := s.memory.CreateMemory(rec)
	if errors.Is(err, memory.ErrDuplicate) {
		s.logger.Debug("memory already recorded", zap.String("memoryId", rec.ID))
		return nil
	}

	return err
}

func (s *Service) key(purpose string) string {
	return posts.CacheKey(posts.Platform, s.cfg.Username, purpose)
}

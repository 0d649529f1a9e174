package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"persona-poster/internal/posts"
)

const (
	cbTimeout = time.Second * 5

	// UsersCollection holds one document per known account
	UsersCollection = "users"

	// RoomsCollection holds one document per conversation room
	RoomsCollection = "rooms"

	// ParticipantsCollection links accounts to the rooms they are in
	ParticipantsCollection = "participants"

	// MemoriesCollection is the durable log of published content
	MemoriesCollection = "memories"
)

// ErrDuplicate communicates that a memory with the same deterministic id
// already exists. Bookkeeping for the same post twice is not an error worth
// failing a cycle over.
var ErrDuplicate = posts.Error("memory already exists")

// Record is one row in the durable memory log. Its ID is deterministic over
// the post id and agent id so replays collide instead of duplicating.
type Record struct {
	ID        string  `json:"id"`
	AgentID   string  `json:"agentId"`
	UserID    string  `json:"userId"`
	RoomID    string  `json:"roomId"`
	Content   Content `json:"content"`
	CreatedAt int64   `json:"createdAt"`
}

// Content is the payload of a memory record
type Content struct {
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source"`
}

type user struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type room struct {
	ID string `json:"id"`
}

type participant struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// AgentID derives the stable agent identifier from the account username
func AgentID(username string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(username)).String()
}

// RoomID derives the stable room identifier for a conversation
func RoomID(conversationID, agentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(conversationID+"-"+agentID)).String()
}

// MemoryID derives the stable memory identifier for a published post
func MemoryID(postID, agentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(postID+"-"+agentID)).String()
}

// Service is responsible for the write side of the long-term memory store:
// accounts, rooms, room membership, and the memory log itself.
type Service struct {
	bucket       string
	cluster      *gocb.Cluster
	users        *gocb.Collection
	rooms        *gocb.Collection
	participants *gocb.Collection
	memories     *gocb.Collection
	logger       *zap.Logger
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

	if err := s.setCollections(); err != nil {
		return nil, fmt.Errorf("unable to set collections: %w", err)
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

// EnsureUserExists upserts the account document. Safe to call every cycle.
func (s *Service) EnsureUserExists(id, name, username string) error {
	return s.upsert(s.users, id, user{ID: id, Name: name, Username: username})
}

// EnsureRoomExists upserts the room document
func (s *Service) EnsureRoomExists(id string) error {
	return s.upsert(s.rooms, id, room{ID: id})
}

// EnsureParticipantInRoom upserts the membership link between an account
// and a room
func (s *Service) EnsureParticipantInRoom(userID, roomID string) error {
	return s.upsert(s.participants, userID+"::"+roomID, participant{UserID: userID, RoomID: roomID})
}

// CreateMemory inserts the memory record. Returns ErrDuplicate if a record
// with the same id already exists.
func (s *Service) CreateMemory(rec Record) error {
	logger := s.logger.With(zap.String("memoryId", rec.ID))

	opts := gocb.InsertOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         cbTimeout,
	}
	if _, err := s.memories.Insert(rec.ID, rec, &opts); err != nil {
		if errors.Is(err, gocb.ErrDocumentExists) {
			return ErrDuplicate
		}
		const msg = "unable to create memory record"
		logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	logger.Debug("successfully created memory record")

	return nil
}

func (s *Service) upsert(collection *gocb.Collection, key string, value interface{}) error {
	logger := s.logger.With(
		zap.String("key", key),
		zap.String("collection", collection.Name()),
	)

	opts := gocb.UpsertOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         cbTimeout,
	}
	if _, err := collection.Upsert(key, value, &opts); err != nil {
		const msg = "unable to upsert document"
		logger.Error(msg, zap.Error(err))
		return fmt.Errorf(msg+": %w", err)
	}

	return nil
}

func (s *Service) setCollections() error {
	bucket := s.cluster.Bucket(s.bucket)
	if err := bucket.WaitUntilReady(cbTimeout, nil); err != nil {
		return fmt.Errorf("unable to wait for bucket to be ready: %w", err)
	}

	scope := bucket.Scope(posts.CouchbaseScope)
	s.users = scope.Collection(UsersCollection)
	s.rooms = scope.Collection(RoomsCollection)
	s.participants = scope.Collection(ParticipantsCollection)
	s.memories = scope.Collection(MemoriesCollection)

	return nil
}

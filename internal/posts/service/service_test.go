package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"persona-poster/internal/posts"
	"persona-poster/internal/posts/memory"
)

type fakeCache struct {
	docs   map[string][]byte
	getErr error
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{docs: map[string][]byte{}}
}

func (f *fakeCache) Get(key string, into interface{}) error {
	if f.getErr != nil {
		return f.getErr
	}
	b, ok := f.docs[key]
	if !ok {
		return posts.ErrNotFound
	}
	return json.Unmarshal(b, into)
}

func (f *fakeCache) Set(key string, value interface{}) error {
	if f.setErr != nil {
		return f.setErr
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.docs[key] = b
	return nil
}

type fakeMemory struct {
	users        []string
	rooms        []string
	participants []string
	memories     []memory.Record
	createErr    error
}

func (f *fakeMemory) EnsureUserExists(id, name, username string) error {
	f.users = append(f.users, id)
	return nil
}

func (f *fakeMemory) EnsureRoomExists(id string) error {
	f.rooms = append(f.rooms, id)
	return nil
}

func (f *fakeMemory) EnsureParticipantInRoom(userID, roomID string) error {
	f.participants = append(f.participants, userID+"::"+roomID)
	return nil
}

func (f *fakeMemory) CreateMemory(rec memory.Record) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.memories = append(f.memories, rec)
	return nil
}

type fakeSocial struct {
	timeline  []posts.TimelineEntry
	fetches   int
	sends     []string
	sendErr   error
	nextID    string
	createdAt time.Time
}

func (f *fakeSocial) Init() error { return nil }

func (f *fakeSocial) FetchHomeTimeline(count int) ([]posts.TimelineEntry, error) {
	f.fetches++
	if len(f.timeline) > count {
		return f.timeline[:count], nil
	}
	return f.timeline, nil
}

func (f *fakeSocial) SendTweet(text string) (*posts.SentPost, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, text)
	return &posts.SentPost{
		ID:             f.nextID,
		Text:           text,
		ConversationID: f.nextID,
		CreatedAt:      f.createdAt,
		PermanentURL:   "https://twitter.com/muse/status/" + f.nextID,
	}, nil
}

type fakeGenerator struct {
	text      string
	err       error
	timelines [][]posts.TimelineEntry
}

func (f *fakeGenerator) NewPost(_ context.Context, timeline []posts.TimelineEntry) (string, error) {
	f.timelines = append(f.timelines, timeline)
	return f.text, f.err
}

func testConfig(dryRun bool) Config {
	return Config{
		Username:   "muse",
		AgentName:  "Muse",
		DryRun:     dryRun,
		FetchCount: 3,
	}
}

func Test_Service_PostOnce(t *testing.T) {
	createdAt := time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		desc   string
		dryRun bool
		cache  *fakeCache
		mem    *fakeMemory
		social *fakeSocial
		gen    *fakeGenerator
		chk    func(t *testing.T, s *Service, err error, cache *fakeCache, mem *fakeMemory, social *fakeSocial)
	}{
		{
			desc:   "Happy path publishes and records bookkeeping",
			cache:  newFakeCache(),
			mem:    &fakeMemory{},
			social: &fakeSocial{nextID: "99", createdAt: createdAt},
			gen:    &fakeGenerator{text: "a new post."},
			chk: func(t *testing.T, s *Service, err error, cache *fakeCache, mem *fakeMemory, social *fakeSocial) {
				require.NoError(t, err)
				require.Len(t, social.sends, 1)
				assert.Equal(t, "a new post.", social.sends[0])

				last, err := s.LastPost()
				require.NoError(t, err)
				assert.Equal(t, "99", last.ID)
				assert.Equal(t, posts.ToMillis(createdAt), last.Timestamp)

				require.Len(t, mem.memories, 1)
				rec := mem.memories[0]
				assert.Equal(t, memory.MemoryID("99", memory.AgentID("muse")), rec.ID)
				assert.Equal(t, "a new post.", rec.Content.Text)
				assert.Equal(t, posts.Platform, rec.Content.Source)
				assert.Len(t, mem.users, 1)
				assert.Len(t, mem.rooms, 1)
				assert.Len(t, mem.participants, 1)
			},
		},
		{
			desc:   "Dry run suppresses publish and bookkeeping",
			dryRun: true,
			cache:  newFakeCache(),
			mem:    &fakeMemory{},
			social: &fakeSocial{nextID: "99", createdAt: createdAt},
			gen:    &fakeGenerator{text: "a new post."},
			chk: func(t *testing.T, s *Service, err error, cache *fakeCache, mem *fakeMemory, social *fakeSocial) {
				require.NoError(t, err)
				assert.Empty(t, social.sends)
				assert.Empty(t, mem.memories)

				last, err := s.LastPost()
				require.NoError(t, err)
				assert.Zero(t, last.Timestamp)
			},
		},
		{
			desc:   "Generation failure aborts before publish",
			cache:  newFakeCache(),
			mem:    &fakeMemory{},
			social: &fakeSocial{nextID: "99", createdAt: createdAt},
			gen:    &fakeGenerator{err: posts.ErrEmptyPost},
			chk: func(t *testing.T, s *Service, err error, cache *fakeCache, mem *fakeMemory, social *fakeSocial) {
				require.Error(t, err)
				assert.Empty(t, social.sends)
				assert.Empty(t, mem.memories)
			},
		},
		{
			desc:   "Publish failure surfaces as a cycle error",
			cache:  newFakeCache(),
			mem:    &fakeMemory{},
			social: &fakeSocial{sendErr: posts.Error("boom"), createdAt: createdAt},
			gen:    &fakeGenerator{text: "a new post."},
			chk: func(t *testing.T, s *Service, err error, cache *fakeCache, mem *fakeMemory, social *fakeSocial) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unable to publish post")
			},
		},
		{
			desc:   "Duplicate memory is not a cycle failure",
			cache:  newFakeCache(),
			mem:    &fakeMemory{createErr: memory.ErrDuplicate},
			social: &fakeSocial{nextID: "99", createdAt: createdAt},
			gen:    &fakeGenerator{text: "a new post."},
			chk: func(t *testing.T, s *Service, err error, cache *fakeCache, mem *fakeMemory, social *fakeSocial) {
				require.NoError(t, err)
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			s, err := NewService(zap.NewNop(), tc.cache, tc.mem, tc.social, tc.gen, testConfig(tc.dryRun))
			require.NoError(t, err)

			err = s.PostOnce(context.Background())
			tc.chk(t, s, err, tc.cache, tc.mem, tc.social)
		})
	}
}

func Test_Service_RecentTimeline(t *testing.T) {
	createdAt := time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)

	t.Run("Refreshes from the platform when the cache is empty", func(t *testing.T) {
		cache := newFakeCache()
		social := &fakeSocial{
			nextID:    "99",
			createdAt: createdAt,
			timeline: []posts.TimelineEntry{
				{ID: "1", Author: "a", Text: "one"},
			},
		}
		gen := &fakeGenerator{text: "fine."}

		s, err := NewService(zap.NewNop(), cache, &fakeMemory{}, social, gen, testConfig(false))
		require.NoError(t, err)

		require.NoError(t, s.PostOnce(context.Background()))
		assert.Equal(t, 1, social.fetches)

		require.Len(t, gen.timelines, 1)
		assert.Equal(t, social.timeline, gen.timelines[0])
	})

	t.Run("Uses the cached timeline without fetching", func(t *testing.T) {
		cache := newFakeCache()
		key := posts.CacheKey(posts.Platform, "muse", posts.PurposeTimeline)
		require.NoError(t, cache.Set(key, []posts.TimelineEntry{{ID: "1", Author: "a", Text: "one"}}))

		social := &fakeSocial{nextID: "99", createdAt: createdAt}
		s, err := NewService(zap.NewNop(), cache, &fakeMemory{}, social, &fakeGenerator{text: "fine."}, testConfig(false))
		require.NoError(t, err)

		require.NoError(t, s.PostOnce(context.Background()))
		assert.Zero(t, social.fetches)
	})

	t.Run("Appends the published post and trims to the fetch cap", func(t *testing.T) {
		cache := newFakeCache()
		key := posts.CacheKey(posts.Platform, "muse", posts.PurposeTimeline)
		seed := []posts.TimelineEntry{
			{ID: "1", Author: "a", Text: "one"},
			{ID: "2", Author: "b", Text: "two"},
			{ID: "3", Author: "c", Text: "three"},
		}
		require.NoError(t, cache.Set(key, seed))

		social := &fakeSocial{nextID: "99", createdAt: createdAt}
		s, err := NewService(zap.NewNop(), cache, &fakeMemory{}, social, &fakeGenerator{text: "fine."}, testConfig(false))
		require.NoError(t, err)

		require.NoError(t, s.PostOnce(context.Background()))

		var timeline []posts.TimelineEntry
		require.NoError(t, cache.Get(key, &timeline))
		require.Len(t, timeline, 3)
		assert.Equal(t, "2", timeline[0].ID)
		assert.Equal(t, "99", timeline[2].ID)
		assert.Equal(t, "muse", timeline[2].Author)
	})
}

func Test_Service_LastPost(t *testing.T) {
	t.Run("Never posted defaults to the zero record", func(t *testing.T) {
		s, err := NewService(zap.NewNop(), newFakeCache(), &fakeMemory{}, &fakeSocial{}, &fakeGenerator{}, testConfig(false))
		require.NoError(t, err)

		last, err := s.LastPost()
		require.NoError(t, err)
		assert.Zero(t, last.Timestamp)
		assert.Empty(t, last.ID)
	})

	t.Run("Cache read failure is surfaced", func(t *testing.T) {
		cache := newFakeCache()
		cache.getErr = posts.Error("connection reset")

		s, err := NewService(zap.NewNop(), cache, &fakeMemory{}, &fakeSocial{}, &fakeGenerator{}, testConfig(false))
		require.NoError(t, err)

		_, err = s.LastPost()
		require.Error(t, err)
	})
}

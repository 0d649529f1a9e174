package posts

import "time"

const (
	// CouchbaseScope is the Couchbase scope in which all of the agent's
	// posting state is stored
	CouchbaseScope = "agent"

	// CacheCollection is the Couchbase collection holding the key/value
	// documents (last-post marker, cached timeline)
	CacheCollection = "cache"

	// Platform is the social platform this agent posts to. Cache keys and
	// memory records are namespaced by it.
	Platform = "twitter"

	// MaxPostLength is the hard character limit for a single post
	MaxPostLength = 280
)

const (
	// PurposeLastPost is the cache key purpose for the last successful
	// post marker
	PurposeLastPost = "lastPost"

	// PurposeTimeline is the cache key purpose for the cached home timeline
	PurposeTimeline = "timeline"
)

// Record marks the last successful post. It is overwritten after every
// publish and read at every scheduling decision. A zero Timestamp means the
// account has never posted.
type Record struct {
	// ID of the published post, as assigned by the platform
	ID string `json:"id"`

	// Timestamp of the publish in milliseconds since the epoch
	Timestamp int64 `json:"timestamp"`
}

// Time returns the record's timestamp as a time.Time
func (r Record) Time() time.Time {
	return time.Unix(0, r.Timestamp*int64(time.Millisecond))
}

// TimelineEntry is the summary of one post on the home timeline. The cached
// timeline is an ordered slice of these, capped by the fetch size.
type TimelineEntry struct {
	// ID of the post
	ID string `json:"id"`

	// Author is the screen name of the posting account
	Author string `json:"author"`

	// Text is the full text of the post
	Text string `json:"text"`

	// InReplyTo is the id of the post this one replies to, if any
	InReplyTo string `json:"inReplyTo,omitempty"`

	// Timestamp of the post in milliseconds since the epoch
	Timestamp int64 `json:"timestamp"`
}

// SentPost holds the fields the platform returns for a freshly published
// post. It only lives for the duration of one post cycle, long enough to
// produce the Record and the memory row.
type SentPost struct {
	ID             string
	Text           string
	ConversationID string
	InReplyTo      string
	CreatedAt      time.Time
	PermanentURL   string
}

// CacheKey builds the key under which posting state is stored in the cache
// collection, e.g. twitter/muse/lastPost
func CacheKey(platform, account, purpose string) string {
	return platform + "/" + account + "/" + purpose
}

// ToMillis converts a time to milliseconds since the epoch
func ToMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

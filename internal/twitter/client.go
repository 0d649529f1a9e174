package twitter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"go.uber.org/zap"

	"persona-poster/internal/posts"
)

const (
	// DefaultFetchCount is the number of timeline entries fetched when the
	// caller does not specify one
	DefaultFetchCount = 20

	queueSize = 16

	baseURL = "https://twitter.com"
)

// ErrNotInitialized communicates that the client was used before Init
var ErrNotInitialized = posts.Error("twitter client not initialized")

// Credentials holds the OAuth1 consumer and access tokens needed to act as
// the posting account
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

func (c Credentials) validate() error {
	var missing []string

	for _, tc := range []struct {
		dep string
		chk func() bool
	}{
		{
			dep: "consumerKey",
			chk: func() bool { return c.ConsumerKey != "" },
		},
		{
			dep: "consumerSecret",
			chk: func() bool { return c.ConsumerSecret != "" },
		},
		{
			dep: "accessToken",
			chk: func() bool { return c.AccessToken != "" },
		},
		{
			dep: "accessTokenSecret",
			chk: func() bool { return c.AccessTokenSecret != "" },
		},
	} {
		if !tc.chk() {
			missing = append(missing, tc.dep)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf(
			"missing (%d) credentials: %s",
			len(missing),
			strings.Join(missing, ","),
		)
	}

	return nil
}

type submission struct {
	text string
	done chan result
}

type result struct {
	sent *posts.SentPost
	err  error
}

// Client wraps the platform API. Outbound publishes go through a single
// dispatch goroutine so they are serialized regardless of how many callers
// submit at once.
type Client struct {
	logger   *zap.Logger
	creds    Credentials
	username string

	mu    sync.Mutex
	api   *twitter.Client
	queue chan submission

	// postFn is swapped in tests; Init defaults it to the API-backed post
	postFn func(text string) (*posts.SentPost, error)
}

func NewClient(logger *zap.Logger, creds Credentials, username string) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("unable to initialize twitter client: missing logger dependency")
	}

	if username == "" {
		return nil, fmt.Errorf("unable to initialize twitter client: missing username")
	}

	if err := creds.validate(); err != nil {
		return nil, fmt.Errorf("unable to initialize twitter client: %w", err)
	}

	return &Client{
		logger:   logger,
		creds:    creds,
		username: username,
	}, nil
}

// Init sets up the underlying API connection and starts the submission
// queue. Calling it again is a no-op.
func (c *Client) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api != nil {
		return nil
	}

	config := oauth1.NewConfig(c.creds.ConsumerKey, c.creds.ConsumerSecret)
	token := oauth1.NewToken(c.creds.AccessToken, c.creds.AccessTokenSecret)
	c.api = twitter.NewClient(config.Client(oauth1.NoContext, token))

	if c.postFn == nil {
		c.postFn = c.post
	}

	c.queue = make(chan submission, queueSize)
	go c.dispatch()

	c.logger.Debug("twitter client initialized", zap.String("username", c.username))

	return nil
}

// FetchHomeTimeline returns up to count entries from the account's home
// timeline, newest last
func (c *Client) FetchHomeTimeline(count int) ([]posts.TimelineEntry, error) {
	if count <= 0 {
		count = DefaultFetchCount
	}

	c.mu.Lock()
	api := c.api
	c.mu.Unlock()

	if api == nil {
		return nil, ErrNotInitialized
	}

	tweets, _, err := api.Timelines.HomeTimeline(&twitter.HomeTimelineParams{
		Count:     count,
		TweetMode: "extended",
	})
	if err != nil {
		const msg = "unable to fetch home timeline"
		c.logger.Error(msg, zap.Error(err))
		return nil, fmt.Errorf(msg+": %w", err)
	}

	entries := make([]posts.TimelineEntry, 0, len(tweets))
	for i := len(tweets) - 1; i >= 0; i-- {
		entries = append(entries, toEntry(tweets[i]))
	}

	c.logger.Debug("fetched home timeline", zap.Int("numEntries", len(entries)))

	return entries, nil
}

// SendTweet publishes text through the serialized submission queue and
// blocks until the dispatch completes. Init must have been called first.
func (c *Client) SendTweet(text string) (*posts.SentPost, error) {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()

	if queue == nil {
		return nil, ErrNotInitialized
	}

	sub := submission{
		text: text,
		done: make(chan result, 1),
	}
	queue <- sub

	r := <-sub.done

	return r.sent, r.err
}

func (c *Client) dispatch() {
	for sub := range c.queue {
		sent, err := c.postFn(sub.text)
		sub.done <- result{sent: sent, err: err}
	}
}

func (c *Client) post(text string) (*posts.SentPost, error) {
	logger := c.logger.With(zap.Int("length", len(text)))

	tweet, _, err := c.api.Statuses.Update(text, nil)
	if err != nil {
		const msg = "unable to post tweet"
		logger.Error(msg, zap.Error(err))
		return nil, fmt.Errorf(msg+": %w", err)
	}

	created, err := tweet.CreatedAtTime()
	if err != nil {
		created = time.Now().UTC()
	}

	sent := posts.SentPost{
		ID:   tweet.IDStr,
		Text: tweetText(tweet),
		// a fresh top level post starts its own conversation
		ConversationID: tweet.IDStr,
		InReplyTo:      tweet.InReplyToStatusIDStr,
		CreatedAt:      created,
		PermanentURL:   PermanentURL(c.username, tweet.IDStr),
	}

	logger.Debug("posted tweet", zap.String("tweetId", sent.ID))

	return &sent, nil
}

// PermanentURL builds the canonical link to a post
func PermanentURL(username, id string) string {
	return baseURL + "/" + username + "/status/" + id
}

func toEntry(t twitter.Tweet) posts.TimelineEntry {
	var author string
	if t.User != nil {
		author = t.User.ScreenName
	}

	var ts int64
	if created, err := t.CreatedAtTime(); err == nil {
		ts = posts.ToMillis(created)
	}

	return posts.TimelineEntry{
		ID:        t.IDStr,
		Author:    author,
		Text:      tweetText(&t),
		InReplyTo: t.InReplyToStatusIDStr,
		Timestamp: ts,
	}
}

func tweetText(t *twitter.Tweet) string {
	if t.FullText != "" {
		return t.FullText
	}

	return t.Text
}

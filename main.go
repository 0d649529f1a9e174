package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"persona-poster/internal/llm"
	"persona-poster/internal/posts/cache"
	"persona-poster/internal/posts/generator"
	"persona-poster/internal/posts/memory"
	"persona-poster/internal/posts/scheduler"
	"persona-poster/internal/posts/service"
	"persona-poster/internal/twitter"
)

type Config struct {
	CouchbaseEndpoint string `env:"COUCHBASE_ENDPOINT,required"`

	CouchbaseUsername string `env:"COUCHBASE_USERNAME,required"`

	CouchbasePassword string `env:"COUCHBASE_PASSWORD,required"`

	CouchbaseBucket string `env:"COUCHBASE_BUCKET,required"`

	TwitterConsumerKey string `env:"TWITTER_CONSUMER_KEY,required"`

	TwitterConsumerSecret string `env:"TWITTER_CONSUMER_SECRET,required"`

	TwitterAccessToken string `env:"TWITTER_ACCESS_TOKEN,required"`

	TwitterAccessTokenSecret string `env:"TWITTER_ACCESS_TOKEN_SECRET,required"`

	TwitterUsername string `env:"TWITTER_USERNAME,required"`

	LLMAPIKey string `env:"LLM_API_KEY,required"`

	LLMBaseURL string `env:"LLM_BASE_URL"`

	LLMModel string `env:"LLM_MODEL"`

	CharacterFile string `env:"CHARACTER_FILE,required"`

	// DryRun runs the full generation pipeline but never publishes
	DryRun bool `env:"DRY_RUN" envDefault:"false"`

	// PostImmediately fires one post cycle at startup instead of waiting
	// for the schedule
	PostImmediately bool `env:"POST_IMMEDIATELY" envDefault:"false"`

	PostInterval time.Duration `env:"POST_INTERVAL" envDefault:"30m"`
}

func main() {
	cfg, err := getConfig()
	if err != nil {
		log.Fatalf("unable to get config: %s", err)
	}

	cluster, err := getCluster(cfg)
	if err != nil {
		log.Fatalf("unable to initialize cluster: %s", err)
	}

	logger, err := zap.NewDevelopment(
		zap.WithCaller(true),
	)
	if err != nil {
		log.Fatalf("unable to initialize logger: %s", err)
	}

	sched, err := getScheduler(logger, cluster, cfg)
	if err != nil {
		log.Fatalf("unable to initialize scheduler: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	// handle interrupts
	g.Go(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		select {
		case <-gctx.Done():
			return nil
		case <-c:
			cancel()
			return nil
		}
	})

	g.Go(func() error {
		if err := sched.Start(cfg.PostImmediately); err != nil {
			cancel()
			return err
		}

		<-gctx.Done()
		sched.Stop()

		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("error waiting for go routines to finish: %s", err)
	}
}

func getConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func getCluster(cfg *Config) (*gocb.Cluster, error) {
	c, err := gocb.Connect(
		"couchbase://"+cfg.CouchbaseEndpoint,
		gocb.ClusterOptions{
			Username: cfg.CouchbaseUsername,
			Password: cfg.CouchbasePassword,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to cluster: %w", err)
	}

	if err := c.WaitUntilReady(time.Second*5, nil); err != nil {
		return nil, fmt.Errorf("unable to wait until cluster ready: %w", err)
	}

	return c, nil
}

func getScheduler(logger *zap.Logger, cluster *gocb.Cluster, cfg *Config) (*scheduler.Scheduler, error) {
	cacheSvc, err := cache.NewService(logger, cluster, cfg.CouchbaseBucket)
	if err != nil {
		return nil, err
	}

	memorySvc, err := memory.NewService(logger, cluster, cfg.CouchbaseBucket)
	if err != nil {
		return nil, err
	}

	client, err := twitter.NewClient(
		logger,
		twitter.Credentials{
			ConsumerKey:       cfg.TwitterConsumerKey,
			ConsumerSecret:    cfg.TwitterConsumerSecret,
			AccessToken:       cfg.TwitterAccessToken,
			AccessTokenSecret: cfg.TwitterAccessTokenSecret,
		},
		cfg.TwitterUsername,
	)
	if err != nil {
		return nil, err
	}

	completer, err := llm.NewClient(logger, llm.Config{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
	})
	if err != nil {
		return nil, err
	}

	character, err := generator.LoadCharacter(cfg.CharacterFile)
	if err != nil {
		return nil, err
	}

	gen, err := generator.NewGenerator(logger, character, completer)
	if err != nil {
		return nil, err
	}

	svc, err := service.NewService(logger, cacheSvc, memorySvc, client, gen, service.Config{
		Username:   cfg.TwitterUsername,
		AgentName:  character.Name,
		DryRun:     cfg.DryRun,
		FetchCount: twitter.DefaultFetchCount,
	})
	if err != nil {
		return nil, err
	}

	return scheduler.New(logger, svc, scheduler.Config{
		Interval: cfg.PostInterval,
	})
}

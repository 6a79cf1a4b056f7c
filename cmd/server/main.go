package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/api"
	"cmsgateway/pkg/config"
	"cmsgateway/pkg/logger"
	"cmsgateway/pkg/ratelimit"
	"cmsgateway/pkg/upstream"
)

func main() {
	var (
		configPath  string
		httpAddr    string
		logLevel    string
		upstreamURL string
		kafkaAddr   string
		kafkaTopic  string
		kafkaBatch  int
		redisAddr   string
	)

	flag.StringVar(&configPath, "config", "cmd/server/config.toml", "Path to TOML config file")
	flag.StringVar(&httpAddr, "http", "", "HTTP server address in the form 'host:port'.")
	flag.StringVar(&logLevel, "log", "", "Log level: debug, info, warn, error.")
	flag.StringVar(&upstreamURL, "upstream", "", "Content API base URL.")
	flag.StringVar(&kafkaAddr, "kafka", "", "Kafka server address in the form 'host:port'.")
	flag.StringVar(&kafkaTopic, "topic", "", "Kafka topic.")
	flag.IntVar(&kafkaBatch, "batch", 0, "Kafka batch size.")
	flag.StringVar(&redisAddr, "redis", "", "Redis address for rate-limit stats.")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[server] failed to load config file %s: %v", configPath, err)
	}

	// Override config with flags if set
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if upstreamURL != "" {
		cfg.UpstreamURL = upstreamURL
	}
	if kafkaAddr != "" {
		cfg.KafkaAddr = kafkaAddr
	}
	if kafkaTopic != "" {
		cfg.KafkaTopic = kafkaTopic
	}
	if kafkaBatch != 0 {
		cfg.KafkaBatch = kafkaBatch
	}
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[server] invalid config: %v", err)
	}

	if !strings.Contains(cfg.HTTPAddr, ":") {
		log.Warn("[server] use ':' before port number, e.g. ':8080'")
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Warnf("[server] %v, keeping level %s", err, log.GetLevel())
	}

	if cfg.UpstreamURL == "" {
		log.Error("[config] upstream base URL is not configured, content requests will fail")
	}

	opts := []api.Option{
		api.WithFetcher(upstream.New(upstream.WithUserAgent(cfg.UserAgent))),
	}

	var kafkaWriter *kafka.Writer
	if cfg.KafkaAddr != "" && cfg.KafkaTopic != "" {
		kafkaWriter = &kafka.Writer{
			Addr:      kafka.TCP(cfg.KafkaAddr),
			Topic:     cfg.KafkaTopic,
			BatchSize: cfg.KafkaBatch,
			Async:     true,
		}
		defer kafkaWriter.Close()

		if err := createTopic(kafkaWriter.Addr.String(), kafkaWriter.Topic); err != nil {
			log.Warnf("[server] failed to create Kafka topic: %v", err)
		}
		opts = append(opts, api.WithMessageWriter(kafkaWriter))
	} else {
		log.Warnf("[server] kafka was not configured, access logs will not be sent to Kafka")
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  200 * time.Millisecond,
			ReadTimeout:  100 * time.Millisecond,
			WriteTimeout: 100 * time.Millisecond,
			MaxRetries:   -1,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warnf("[server] redis ping failed, keeping rate-limit stats in memory: %v", err)
			opts = append(opts, api.WithStats(ratelimit.NewMemoryStats()))
		} else {
			opts = append(opts, api.WithStats(ratelimit.NewRedisStats(rdb, ratelimit.WithStatsPrefix(cfg.ServiceName+":ratelimit"))))
		}
	} else {
		opts = append(opts, api.WithStats(ratelimit.NewMemoryStats()))
	}

	gw := api.New(cfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Limiter().StartJanitor(ctx, cfg.SweepInterval)
	gw.Cache().StartJanitor(ctx, cfg.SweepInterval)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		log.Infof("[server] starting on port %v", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] failed to start: %v", err)
			return
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[server] HTTP server shutdown error: %v", err)
	} else {
		log.Info("[server] HTTP server shut down gracefully")
	}
}

func createTopic(broker, topic string) error {
	conn, err := kafka.DialContext(context.Background(), "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}

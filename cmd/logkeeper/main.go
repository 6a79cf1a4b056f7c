package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/logger"
	"cmsgateway/pkg/logkeeper"
)

func main() {
	configPath := flag.String("config", "cmd/logkeeper/config.toml", "Path to TOML config file")
	logLevel := flag.String("log", "", "Log level: debug, info, warn, error.")
	flag.Parse()

	cfg, err := logkeeper.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[logkeeper] failed to load config file %s: %v", *configPath, err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Warnf("[logkeeper] %v, keeping level %s", err, log.GetLevel())
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.ElasticSearchNodes})
	if err != nil {
		log.Fatalf("[logkeeper] error creating the client: %s", err)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("[logkeeper] indexing %s into %s with %d workers", cfg.KafkaTopic, cfg.ElasticSearchIndex, cfg.NumWorkers)
	logkeeper.Run(ctx, r, logkeeper.NewESIndexer(es, cfg.ElasticSearchIndex), cfg.NumWorkers)
	log.Info("[logkeeper] shut down gracefully")
}

// Package logkeeper indexes gateway access logs read from Kafka.
package logkeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/logger"
)

// Indexer stores one document under id.
type Indexer interface {
	Index(ctx context.Context, id string, body []byte) error
}

type ESIndexer struct {
	es    *elasticsearch.Client
	index string
}

func NewESIndexer(es *elasticsearch.Client, index string) *ESIndexer {
	return &ESIndexer{es: es, index: index}
}

func (i *ESIndexer) Index(ctx context.Context, id string, body []byte) error {
	res, err := i.es.Index(
		i.index,
		bytes.NewReader(body),
		i.es.Index.WithDocumentID(id),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index %s: %s", i.index, res.Status())
	}
	return nil
}

// Reader is the part of *kafka.Reader used by Run.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Run reads messages until ctx is cancelled and spreads them over workers.
// It returns after every worker has finished.
func Run(ctx context.Context, r Reader, idx Indexer, workers int) {
	jobs := make(chan kafka.Message, workers*5)

	var wg sync.WaitGroup
	wg.Add(workers)
	for id := 0; id < workers; id++ {
		go func(id int) {
			defer wg.Done()
			Worker(ctx, idx, jobs, id)
		}(id)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Errorf("[logkeeper] failed to read message from Kafka: %v", err)
			continue
		}

		select {
		case jobs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Worker indexes messages from jobs until the channel is closed or ctx is done.
func Worker(ctx context.Context, idx Indexer, jobs <-chan kafka.Message, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Infof("[logkeeper][workerID:%d] context cancelled, exiting worker", workerID)
			return

		case msg, ok := <-jobs:
			if !ok {
				log.Infof("[logkeeper][workerID:%d] jobs channel closed, exiting worker", workerID)
				return
			}
			log.Debugf("[logkeeper][workerID:%d] received message: %s", workerID, string(msg.Value))

			if err := handle(ctx, idx, msg); err != nil {
				log.Errorf("[logkeeper][workerID:%d] %v", workerID, err)
				continue
			}
		}
	}
}

func handle(ctx context.Context, idx Indexer, msg kafka.Message) error {
	var entry logger.Entry
	if err := json.Unmarshal(msg.Value, &entry); err != nil {
		return fmt.Errorf("failed to unmarshal log entry: %w", err)
	}
	if entry.RequestID == "" {
		return fmt.Errorf("log entry without request id from %s", entry.Service)
	}

	if err := idx.Index(ctx, entry.DocumentID(), msg.Value); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	log.Debugf("[logkeeper][%s] log entry indexed", shorten(entry.RequestID))
	return nil
}

func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}

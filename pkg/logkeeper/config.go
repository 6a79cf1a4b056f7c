package logkeeper

import (
	"errors"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LogLevel     string   `toml:"logLevel"`
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaTopic   string   `toml:"kafkaTopic"`
	KafkaGroupID string   `toml:"kafkaGroupID"`

	ElasticSearchIndex string   `toml:"elasticSearchIndex"`
	ElasticSearchNodes []string `toml:"elasticSearchNodes"`

	NumWorkers int `toml:"numWorkers"`
}

// LoadConfig reads a TOML file. A missing worker count means one worker.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("kafkaBrokers is empty"))
	}
	if c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafkaTopic is empty"))
	}
	if c.ElasticSearchIndex == "" {
		errs = append(errs, errors.New("elasticSearchIndex is empty"))
	}
	return errors.Join(errs...)
}

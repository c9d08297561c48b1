// Package config loads and validates the searchsync configuration: runtime
// settings (this file) and the search type definitions (types.go).
//
// Configuration errors are fatal at startup. A config that references an
// unknown type or an unparseable property path cannot produce correct
// indexes, so we refuse to run with it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// UpdateStrategy selects how queued changes are applied to indexes.
type UpdateStrategy string

const (
	// StrategyAutomatic re-derives each affected document from the
	// triplestore and upserts or deletes it per index.
	StrategyAutomatic UpdateStrategy = "automatic"
	// StrategyInvalidating marks every index of an affected type invalid.
	StrategyInvalidating UpdateStrategy = "invalidating"
)

// SearchBackend selects the physical search engine implementation.
type SearchBackend string

const (
	// BackendElasticsearch talks to an external Elasticsearch-compatible
	// engine over HTTP. This is the production backend.
	BackendElasticsearch SearchBackend = "elasticsearch"
	// BackendEmbedded keeps indexes in local Bleve indexes under the data
	// dir. Meant for development and tests; supports the common query
	// subset only.
	BackendEmbedded SearchBackend = "embedded"
)

// Config is the complete runtime configuration.
type Config struct {
	Triplestore TriplestoreConfig `yaml:"triplestore"`
	Search      SearchConfig      `yaml:"search"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Update      UpdateConfig      `yaml:"update"`
	Server      ServerConfig      `yaml:"server"`

	// TypesFile points at the type-definition config (types.yaml).
	TypesFile string `yaml:"types_file"`
	// DataDir is the root for local state: queue store, extraction cache,
	// embedded indexes, instance lock.
	DataDir string `yaml:"data_dir"`
}

// TriplestoreConfig configures the SPARQL endpoint.
type TriplestoreConfig struct {
	// Endpoint is the SPARQL query endpoint.
	Endpoint string `yaml:"endpoint"`
	// UpdateEndpoint is the SPARQL update endpoint. Defaults to Endpoint.
	UpdateEndpoint string `yaml:"update_endpoint"`
	// AdminGraph is the graph holding index metadata records.
	AdminGraph string `yaml:"admin_graph"`
	// PoolSize bounds concurrent requests to the endpoint.
	PoolSize int `yaml:"pool_size"`
	// AcquireTimeout bounds waiting for a pool slot (e.g. "5s").
	AcquireTimeout string `yaml:"acquire_timeout"`
}

// SearchConfig configures the search engine backend.
type SearchConfig struct {
	Backend  SearchBackend `yaml:"backend"`
	Endpoint string        `yaml:"endpoint"`
}

// ExtractionConfig configures the text-extraction collaborator and its
// content-addressed cache.
type ExtractionConfig struct {
	Endpoint string `yaml:"endpoint"`
	// FileShareRoot is the directory share:// URIs resolve against.
	FileShareRoot string `yaml:"file_share_root"`
	// MaxFileSize is the extraction ceiling in bytes; larger files are
	// indexed without content. 0 means no ceiling.
	MaxFileSize int64 `yaml:"max_file_size"`
	// CacheEntries sizes the in-memory layer of the extraction cache.
	CacheEntries int `yaml:"cache_entries"`
}

// IndexingConfig configures the index builder and registry.
type IndexingConfig struct {
	// BatchSize is the number of subjects fetched per page.
	BatchSize int `yaml:"batch_size"`
	// MaxBatches caps the batches per build; 0 means unbounded.
	MaxBatches int `yaml:"max_batches"`
	// Workers bounds parallel document construction within a batch.
	Workers int `yaml:"workers"`
	// PersistIndexes keeps index metadata across restarts. When false,
	// every tracked index is destroyed at startup.
	PersistIndexes bool `yaml:"persist_indexes"`
	// AdditiveIndexes builds one index per individual allowed group
	// instead of one per group set.
	AdditiveIndexes bool `yaml:"additive_indexes"`
	// EagerGroupSets lists group sets (JSON serializations) to index for
	// every type at startup rather than on first search.
	EagerGroupSets []string `yaml:"eager_group_sets"`
}

// UpdateConfig configures the change queue.
type UpdateConfig struct {
	Strategy UpdateStrategy `yaml:"strategy"`
	// WaitInterval is the debounce window (e.g. "8m").
	WaitInterval string `yaml:"wait_interval"`
	// Workers is the drain pool size.
	Workers int `yaml:"workers"`
	// HighWaterMark triggers a depth warning; the queue itself is
	// unbounded since dropping an update means permanent staleness.
	HighWaterMark int `yaml:"high_water_mark"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in defaults, suitable for a docker-compose
// style deployment next to a triplestore and an Elasticsearch node.
func Default() *Config {
	return &Config{
		Triplestore: TriplestoreConfig{
			Endpoint:       "http://database:8890/sparql",
			AdminGraph:     "http://semweb.org/searchsync/indexes",
			PoolSize:       8,
			AcquireTimeout: "30s",
		},
		Search: SearchConfig{
			Backend:  BackendElasticsearch,
			Endpoint: "http://elasticsearch:9200",
		},
		Extraction: ExtractionConfig{
			Endpoint:      "http://tika:9998",
			FileShareRoot: "/share",
			MaxFileSize:   100 * 1024 * 1024,
			CacheEntries:  1024,
		},
		Indexing: IndexingConfig{
			BatchSize:      100,
			MaxBatches:     0,
			Workers:        8,
			PersistIndexes: true,
		},
		Update: UpdateConfig{
			Strategy:      StrategyAutomatic,
			WaitInterval:  "8m",
			Workers:       4,
			HighWaterMark: 1000,
		},
		Server: ServerConfig{
			Port:      8888,
			LogLevel:  "info",
			LogFormat: "json",
		},
		TypesFile: "config/types.yaml",
		DataDir:   "data",
	}
}

// Load reads a config file, layering it over the defaults and applying
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, syncerrors.New(syncerrors.ErrCodeConfigNotFound,
					fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, syncerrors.ConfigError("cannot read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, syncerrors.ConfigError("cannot parse config file", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides for the settings that
// differ per deployment rather than per project.
func (c *Config) applyEnv() {
	if v := os.Getenv("SEARCHSYNC_TRIPLESTORE_ENDPOINT"); v != "" {
		c.Triplestore.Endpoint = v
	}
	if v := os.Getenv("SEARCHSYNC_SEARCH_ENDPOINT"); v != "" {
		c.Search.Endpoint = v
	}
	if v := os.Getenv("SEARCHSYNC_EXTRACTION_ENDPOINT"); v != "" {
		c.Extraction.Endpoint = v
	}
	if v := os.Getenv("SEARCHSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SEARCHSYNC_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.Triplestore.Endpoint == "" {
		return syncerrors.ConfigError("triplestore.endpoint is required", nil)
	}
	if c.Triplestore.UpdateEndpoint == "" {
		c.Triplestore.UpdateEndpoint = c.Triplestore.Endpoint
	}
	if c.Triplestore.AdminGraph == "" {
		return syncerrors.ConfigError("triplestore.admin_graph is required", nil)
	}
	if c.Triplestore.PoolSize <= 0 {
		return syncerrors.ConfigError("triplestore.pool_size must be positive", nil)
	}
	if _, err := c.AcquireTimeout(); err != nil {
		return syncerrors.ConfigError("triplestore.acquire_timeout is not a duration", err)
	}

	switch c.Search.Backend {
	case BackendElasticsearch, BackendEmbedded:
	default:
		return syncerrors.ConfigError(
			fmt.Sprintf("unknown search backend %q", c.Search.Backend), nil)
	}
	if c.Search.Backend == BackendElasticsearch && c.Search.Endpoint == "" {
		return syncerrors.ConfigError("search.endpoint is required for the elasticsearch backend", nil)
	}

	if c.Indexing.BatchSize <= 0 {
		return syncerrors.ConfigError("indexing.batch_size must be positive", nil)
	}
	if c.Indexing.Workers <= 0 {
		return syncerrors.ConfigError("indexing.workers must be positive", nil)
	}

	switch c.Update.Strategy {
	case StrategyAutomatic, StrategyInvalidating:
	default:
		return syncerrors.ConfigError(
			fmt.Sprintf("unknown update strategy %q", c.Update.Strategy), nil)
	}
	if _, err := c.WaitInterval(); err != nil {
		return syncerrors.ConfigError("update.wait_interval is not a duration", err)
	}
	if c.Update.Workers <= 0 {
		return syncerrors.ConfigError("update.workers must be positive", nil)
	}

	return nil
}

// WaitInterval returns the parsed debounce window.
func (c *Config) WaitInterval() (time.Duration, error) {
	return time.ParseDuration(c.Update.WaitInterval)
}

// AcquireTimeout returns the parsed pool acquisition timeout.
func (c *Config) AcquireTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Triplestore.AcquireTimeout)
}

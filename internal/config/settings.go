// Package config resolves runtime settings from defaults, an optional .env
// file, environment variables, and CLI flags, in that increasing priority
// order.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Secure communication modes for the repository client.
const (
	SecureCommsSecret = "secret"
	SecureCommsMTLS   = "https"
)

// Search protocol schemes.
const (
	SearchProtocolHTTP  = "http"
	SearchProtocolHTTPS = "https"
)

// KeystoreSettings describes a Java-style keystore/truststore file used for
// mutual-TLS transport.
type KeystoreSettings struct {
	Path     string `mapstructure:"path"`
	Type     string `mapstructure:"type"`
	Password string `mapstructure:"password"`
}

// RepositorySettings configures the connection to the content repository.
type RepositorySettings struct {
	URL         string           `mapstructure:"url"`
	SolrPath    string           `mapstructure:"solr_path"`
	SecureComms string           `mapstructure:"secure_comms"`
	Secret      string           `mapstructure:"secret"`
	Keystore    KeystoreSettings `mapstructure:"keystore"`
	Truststore  KeystoreSettings `mapstructure:"truststore"`
	RateLimitQPS float64         `mapstructure:"rate_limit_qps"`
}

// SearchIndexSettings configures the data and control indices.
type SearchIndexSettings struct {
	Name           string `mapstructure:"name"`
	Create         bool   `mapstructure:"create"`
	ControlName    string `mapstructure:"control_name"`
	ControlCreate  bool   `mapstructure:"control_create"`
}

// SearchSettings configures the connection to the search engine.
type SearchSettings struct {
	Host           string              `mapstructure:"host"`
	Port           int                 `mapstructure:"port"`
	Protocol       string              `mapstructure:"protocol"`
	ClientKeystore KeystoreSettings    `mapstructure:"client_keystore"`
	Truststore     KeystoreSettings    `mapstructure:"truststore"`
	Index          SearchIndexSettings `mapstructure:"index"`
}

// IndexerSettings configures the pipeline's scheduling and worker sizing.
type IndexerSettings struct {
	CycleInterval time.Duration `mapstructure:"cron"`
	MaxResults    int           `mapstructure:"transaction_max_results"`
	ContentThreads int          `mapstructure:"content_threads"`
	LockFile      string        `mapstructure:"lock_file"`
	StateFile     string        `mapstructure:"state_file"`
}

// Settings is the fully resolved application configuration.
type Settings struct {
	Repository RepositorySettings `mapstructure:"repository"`
	Search     SearchSettings     `mapstructure:"search"`
	Indexer    IndexerSettings    `mapstructure:"indexer"`
}

const envPrefix = "INDEXBRIDGE"

// LoadSettings loads settings from environment variables and an optional
// .env file, with no CLI flag overrides.
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	v.SetDefault("repository.solr_path", "solr/admin")
	v.SetDefault("repository.secure_comms", SecureCommsSecret)
	v.SetDefault("repository.rate_limit_qps", float64(0))

	v.SetDefault("search.protocol", SearchProtocolHTTP)
	v.SetDefault("search.port", 9200)
	v.SetDefault("search.index.name", "alfresco")
	v.SetDefault("search.index.create", true)
	v.SetDefault("search.index.control_name", "alfresco-control")
	v.SetDefault("search.index.control_create", true)

	v.SetDefault("indexer.cron", 60*time.Second)
	v.SetDefault("indexer.transaction_max_results", 100)
	v.SetDefault("indexer.content_threads", 4)
	v.SetDefault("indexer.lock_file", ".index-bridge.lock")
	v.SetDefault("indexer.state_file", ".index-bridge.state.json")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "repository.url", "repository.solr_path", "repository.secure_comms",
		"repository.secret", "repository.rate_limit_qps",
		"repository.keystore.path", "repository.keystore.type", "repository.keystore.password",
		"repository.truststore.path", "repository.truststore.type", "repository.truststore.password",
		"search.host", "search.port", "search.protocol",
		"search.client_keystore.path", "search.client_keystore.type", "search.client_keystore.password",
		"search.truststore.path", "search.truststore.type", "search.truststore.password",
		"search.index.name", "search.index.create",
		"search.index.control_name", "search.index.control_create",
		"indexer.cron", "indexer.transaction_max_results", "indexer.content_threads",
		"indexer.lock_file", "indexer.state_file")

	if flags != nil {
		bindPFlag(v, flags, map[string]string{
			"repository.url":          "repository-url",
			"repository.secure_comms": "repository-secure-comms",
			"repository.secret":       "repository-secret",
			"search.host":             "search-host",
			"search.port":             "search-port",
			"search.protocol":         "search-protocol",
			"search.index.name":       "search-index-name",
			"indexer.cron":            "indexer-cron",
			"indexer.transaction_max_results": "indexer-max-results",
			"indexer.content_threads":         "indexer-content-threads",
		})
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

func bindEnv(v *viper.Viper, keys ...string) {
	for _, k := range keys {
		envVar := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
		_ = v.BindEnv(k, envVar)
	}
}

func bindPFlag(v *viper.Viper, flags *pflag.FlagSet, keyToFlag map[string]string) {
	for key, flagName := range keyToFlag {
		if f := flags.Lookup(flagName); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// ValidateSettings checks for missing or conflicting configuration values.
func ValidateSettings(s *Settings) error {
	if s.Repository.URL == "" {
		return errors.New("repository.url is required")
	}
	switch s.Repository.SecureComms {
	case SecureCommsSecret:
		if s.Repository.Secret == "" {
			return errors.New("repository.secure_comms 'secret' requires repository.secret")
		}
	case SecureCommsMTLS:
		if s.Repository.Keystore.Path == "" || s.Repository.Truststore.Path == "" {
			return errors.New("repository.secure_comms 'https' requires keystore and truststore paths")
		}
	default:
		return errors.New("repository.secure_comms must be 'secret' or 'https', got: " + s.Repository.SecureComms)
	}

	switch s.Search.Protocol {
	case SearchProtocolHTTP, SearchProtocolHTTPS:
	default:
		return errors.New("search.protocol must be 'http' or 'https', got: " + s.Search.Protocol)
	}
	if s.Search.Protocol == SearchProtocolHTTPS {
		if s.Search.ClientKeystore.Path == "" || s.Search.Truststore.Path == "" {
			return errors.New("search.protocol 'https' requires client keystore and truststore paths")
		}
	}
	if s.Search.Host == "" {
		return errors.New("search.host is required")
	}
	if s.Search.Index.Name == "" {
		return errors.New("search.index.name is required")
	}
	if s.Search.Index.ControlName == "" {
		return errors.New("search.index.control_name is required")
	}

	if s.Indexer.CycleInterval <= 0 {
		return errors.New("indexer.cron must be a positive duration")
	}
	if s.Indexer.MaxResults <= 0 {
		return errors.New("indexer.transaction_max_results must be positive")
	}
	if s.Indexer.ContentThreads <= 0 {
		return errors.New("indexer.content_threads must be positive")
	}
	if s.Repository.RateLimitQPS < 0 {
		return errors.New("repository.rate_limit_qps must not be negative")
	}

	return nil
}

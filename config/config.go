// Package config loads placekit settings from an optional placekit.yaml
// file with PLACEKIT_* environment overrides. Defaults live in the struct
// tags so a bare environment is fully usable.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultFileName is the configuration file probed in the working directory.
const DefaultFileName = "placekit.yaml"

// API groups remote-service settings.
type API struct {
	EntityURL   string        `yaml:"entity_url" env:"PLACEKIT_ENTITY_URL" env-default:"https://www.wikidata.org/w/api.php"`
	QueryURL    string        `yaml:"query_url" env:"PLACEKIT_QUERY_URL" env-default:"https://query.wikidata.org/sparql"`
	WikiURL     string        `yaml:"wiki_url" env:"PLACEKIT_WIKI_URL" env-default:"https://zh.wikipedia.org/w/api.php"`
	QueryDelay  time.Duration `yaml:"query_delay" env:"PLACEKIT_QUERY_DELAY" env-default:"800ms"`
	EntityDelay time.Duration `yaml:"entity_delay" env:"PLACEKIT_ENTITY_DELAY" env-default:"200ms"`
	WikiDelay   time.Duration `yaml:"wiki_delay" env:"PLACEKIT_WIKI_DELAY" env-default:"200ms"`
	Timeout     time.Duration `yaml:"timeout" env:"PLACEKIT_TIMEOUT" env-default:"30s"`
	MaxRetries  int           `yaml:"max_retries" env:"PLACEKIT_MAX_RETRIES" env-default:"5"`
	UserAgent   string        `yaml:"user_agent" env:"PLACEKIT_USER_AGENT" env-default:"placekit/1.0 (place-name localization tool)"`
}

// Flush groups cache persistence thresholds.
type Flush struct {
	MaxDirty int           `yaml:"max_dirty" env:"PLACEKIT_FLUSH_MAX_DIRTY" env-default:"20"`
	Interval time.Duration `yaml:"interval" env:"PLACEKIT_FLUSH_INTERVAL" env-default:"30s"`
}

// Config is the full placekit configuration.
type Config struct {
	CachePath     string   `yaml:"cache_path" env:"PLACEKIT_CACHE_PATH" env-default:"geoname_data/wikidata_cache.json"`
	TargetLang    string   `yaml:"target_lang" env:"PLACEKIT_TARGET_LANG" env-default:"zh-tw"`
	FallbackLangs []string `yaml:"fallback_langs" env:"PLACEKIT_FALLBACK_LANGS" env-default:"zh-hant,zh,en"`
	// ConvertLangs lists fallback languages whose labels go through script
	// conversion before use.
	ConvertLangs []string `yaml:"convert_langs" env:"PLACEKIT_CONVERT_LANGS" env-default:"zh"`
	// Conversion is the OpenCC profile applied to ConvertLangs labels.
	Conversion string `yaml:"conversion" env:"PLACEKIT_CONVERSION" env-default:"s2twp"`
	WikiSite   string `yaml:"wiki_site" env:"PLACEKIT_WIKI_SITE" env-default:"zhwiki"`

	API   API   `yaml:"api"`
	Flush Flush `yaml:"flush"`
}

// Load reads path (or DefaultFileName when path is empty). A missing file is
// not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFileName
	}
	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("reading environment: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return errors.New("config: cache_path must not be empty")
	}
	if c.TargetLang == "" {
		return errors.New("config: target_lang must not be empty")
	}
	if c.API.MaxRetries < 1 {
		return fmt.Errorf("config: max_retries must be positive, got %d", c.API.MaxRetries)
	}
	if c.Flush.MaxDirty < 1 {
		return fmt.Errorf("config: flush max_dirty must be positive, got %d", c.Flush.MaxDirty)
	}
	for _, d := range []time.Duration{c.API.QueryDelay, c.API.EntityDelay, c.API.WikiDelay, c.API.Timeout, c.Flush.Interval} {
		if d <= 0 {
			return errors.New("config: delays, timeout and flush interval must be positive")
		}
	}
	return nil
}

// ConvertLangSet returns ConvertLangs as a lookup set.
func (c *Config) ConvertLangSet() map[string]bool {
	set := make(map[string]bool, len(c.ConvertLangs))
	for _, l := range c.ConvertLangs {
		set[l] = true
	}
	return set
}

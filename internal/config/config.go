package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ArchiveRoot string `yaml:"archive_root" mapstructure:"archive_root"`
	EbookRoot   string `yaml:"ebook_root" mapstructure:"ebook_root"`
	TempRoot    string `yaml:"temp_root" mapstructure:"temp_root"`
	DBPath      string `yaml:"db_path" mapstructure:"db_path"`

	ImageWorkers int `yaml:"image_workers" mapstructure:"image_workers"`
	BatchCeiling int `yaml:"batch_ceiling" mapstructure:"batch_ceiling"`
	ScaleUpDepth int `yaml:"scale_up_depth" mapstructure:"scale_up_depth"`

	CDNPrefix     string        `yaml:"cdn_prefix" mapstructure:"cdn_prefix"`
	IndexHost     string        `yaml:"index_host" mapstructure:"index_host"`
	PageTimeout   time.Duration `yaml:"page_timeout" mapstructure:"page_timeout"`
	ImageTimeout  time.Duration `yaml:"image_timeout" mapstructure:"image_timeout"`
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	RateLimit     float64       `yaml:"rate_limit" mapstructure:"rate_limit"`

	Platforms        []string `yaml:"platforms" mapstructure:"platforms"`
	UnknownArtist    string   `yaml:"unknown_artist" mapstructure:"unknown_artist"`
	LanguageKeywords []string `yaml:"language_keywords" mapstructure:"language_keywords"`

	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	Cookie           string `yaml:"cookie" mapstructure:"cookie"`
	CookieFile       string `yaml:"cookie_file" mapstructure:"cookie_file"`
	CloudflareBypass bool   `yaml:"cloudflare_bypass" mapstructure:"cloudflare_bypass"`

	KeepFolders   bool          `yaml:"keep_folders" mapstructure:"keep_folders"`
	TempRetention time.Duration `yaml:"temp_retention" mapstructure:"temp_retention"`

	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	IdleInterval  time.Duration `yaml:"idle_interval" mapstructure:"idle_interval"`
	IdleThreshold int           `yaml:"idle_threshold" mapstructure:"idle_threshold"`

	RandomRange int    `yaml:"random_range" mapstructure:"random_range"`
	Listen      string `yaml:"listen" mapstructure:"listen"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

// Options carries CLI overrides. Zero values leave the loaded config alone.
type Options struct {
	IgnoreConfig bool
	Debug        bool
	ArchiveRoot  string
	EbookRoot    string
	TempRoot     string
	DBPath       string
	ImageWorkers int
	BatchCeiling int
	CDNPrefix    string
	KeepFolders  bool
	Listen       string
}

func DefaultConfig() *Config {
	return &Config{
		ArchiveRoot:      "archive",
		EbookRoot:        "epub",
		TempRoot:         ".temp",
		DBPath:           "archivist.db",
		ImageWorkers:     2,
		BatchCeiling:     2,
		ScaleUpDepth:     10,
		IndexHost:        "telegra.ph",
		PageTimeout:      10 * time.Second,
		ImageTimeout:     15 * time.Second,
		RetryAttempts:    3,
		RetryBackoff:     500 * time.Millisecond,
		Platforms:        []string{"fanbox", "pixiv"},
		UnknownArtist:    "unknown",
		LanguageKeywords: []string{"翻訳", "汉化", "中國", "翻译", "中文", "中国"},
		TempRetention:    24 * time.Hour,
		PollInterval:     time.Second,
		IdleInterval:     10 * time.Second,
		IdleThreshold:    20,
		RandomRange:      100,
		Listen:           "127.0.0.1:8080",
	}
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Load reads one config file (may be empty for defaults only) and applies
// ARCHIVIST_* environment overrides on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("ARCHIVIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	normalizeDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("archive_root", d.ArchiveRoot)
	v.SetDefault("ebook_root", d.EbookRoot)
	v.SetDefault("temp_root", d.TempRoot)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("image_workers", d.ImageWorkers)
	v.SetDefault("batch_ceiling", d.BatchCeiling)
	v.SetDefault("scale_up_depth", d.ScaleUpDepth)
	v.SetDefault("cdn_prefix", d.CDNPrefix)
	v.SetDefault("index_host", d.IndexHost)
	v.SetDefault("page_timeout", d.PageTimeout)
	v.SetDefault("image_timeout", d.ImageTimeout)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("platforms", d.Platforms)
	v.SetDefault("unknown_artist", d.UnknownArtist)
	v.SetDefault("language_keywords", d.LanguageKeywords)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("cookie", d.Cookie)
	v.SetDefault("cookie_file", d.CookieFile)
	v.SetDefault("cloudflare_bypass", d.CloudflareBypass)
	v.SetDefault("keep_folders", d.KeepFolders)
	v.SetDefault("temp_retention", d.TempRetention)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("idle_interval", d.IdleInterval)
	v.SetDefault("idle_threshold", d.IdleThreshold)
	v.SetDefault("random_range", d.RandomRange)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("debug", d.Debug)
}

func LoadMerged(opts Options) (*Config, string, error) {
	if opts.IgnoreConfig {
		cfg, err := Load("")
		if err != nil {
			return nil, "", err
		}
		mergeConfig(cfg, opts)
		return cfg, "(ignored config)", nil
	}

	activePath, err := ActiveConfigPath()
	if errors.Is(err, ErrNoConfig) || activePath == "" {
		cfg, err := Load("")
		if err != nil {
			return nil, "", err
		}
		mergeConfig(cfg, opts)
		return cfg, "(default config in memory, run `archivist config init` to create one)", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := Load(activePath)
	if err != nil {
		return nil, "", err
	}

	mergeConfig(cfg, opts)
	return cfg, activePath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Debug {
		c.Debug = true
	}
	if o.ArchiveRoot != "" {
		c.ArchiveRoot = o.ArchiveRoot
	}
	if o.EbookRoot != "" {
		c.EbookRoot = o.EbookRoot
	}
	if o.TempRoot != "" {
		c.TempRoot = o.TempRoot
	}
	if o.DBPath != "" {
		c.DBPath = o.DBPath
	}
	if o.ImageWorkers != 0 {
		c.ImageWorkers = o.ImageWorkers
	}
	if o.BatchCeiling != 0 {
		c.BatchCeiling = o.BatchCeiling
	}
	if o.CDNPrefix != "" {
		c.CDNPrefix = o.CDNPrefix
	}
	if o.KeepFolders {
		c.KeepFolders = true
	}
	if o.Listen != "" {
		c.Listen = o.Listen
	}
	normalizeDefaults(c)
}

func normalizeDefaults(c *Config) {
	d := DefaultConfig()
	if c.ImageWorkers < 1 {
		c.ImageWorkers = d.ImageWorkers
	}
	if c.BatchCeiling < 1 {
		c.BatchCeiling = 1
	}
	if c.BatchCeiling > 3 {
		c.BatchCeiling = 3
	}
	if c.ScaleUpDepth < 2 {
		c.ScaleUpDepth = d.ScaleUpDepth
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = d.PageTimeout
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = d.ImageTimeout
	}
	if c.UnknownArtist == "" {
		c.UnknownArtist = d.UnknownArtist
	}
	if c.RandomRange < 1 {
		c.RandomRange = d.RandomRange
	}
	if c.IdleThreshold < 1 {
		c.IdleThreshold = d.IdleThreshold
	}
}

func (c *Config) Print(w io.Writer) {
	_, _ = fmt.Fprintf(w, " -archive_root: %s\n", c.ArchiveRoot)
	_, _ = fmt.Fprintf(w, " -ebook_root: %s\n", c.EbookRoot)
	_, _ = fmt.Fprintf(w, " -temp_root: %s\n", c.TempRoot)
	_, _ = fmt.Fprintf(w, " -db_path: %s\n", c.DBPath)
	_, _ = fmt.Fprintf(w, " -image_workers: %d\n", c.ImageWorkers)
	_, _ = fmt.Fprintf(w, " -batch_ceiling: %d\n", c.BatchCeiling)
	if c.CDNPrefix != "" {
		_, _ = fmt.Fprintf(w, " -cdn_prefix: %s\n", c.CDNPrefix)
	}
	_, _ = fmt.Fprintf(w, " -timeouts: page=%s image=%s\n", c.PageTimeout, c.ImageTimeout)
	_, _ = fmt.Fprintf(w, " -retry_attempts: %d\n", c.RetryAttempts)
	if c.RateLimit > 0 {
		_, _ = fmt.Fprintf(w, " -rate_limit: %.2f/s\n", c.RateLimit)
	}
	if len(c.Platforms) > 0 {
		_, _ = fmt.Fprintf(w, " -platforms: %s\n", strings.Join(c.Platforms, ", "))
	}
	if c.CookieFile != "" {
		_, _ = fmt.Fprintf(w, " -cookie_file: %s\n", c.CookieFile)
	}
	if c.CloudflareBypass {
		_, _ = fmt.Fprintf(w, " -cloudflare_bypass: %t\n", c.CloudflareBypass)
	}
	if c.KeepFolders {
		_, _ = fmt.Fprintf(w, " -keep_folders: %t\n", c.KeepFolders)
	}
	if c.Debug {
		_, _ = fmt.Fprintf(w, " -debug: %t\n", c.Debug)
	}
}

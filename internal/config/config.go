package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"statsbootstrap/internal/match"
)

const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "line"
	defaultServerListen    = "127.0.0.1:7070"
	defaultMaxRecvBytes    = 4 << 20
	defaultIngressSubject  = "statsbootstrap.atoms"
	defaultNATSPrefix      = "statsbootstrap.events"
	defaultCollectorTO     = 5 * time.Second
	defaultCollectorRetry  = 3 * time.Second
	defaultCollectorBatchN = 200
	defaultCollectorBatchA = 5 * time.Second
	defaultCompression     = "none"
	defaultSelfAtomID      = 9999
	defaultSelfInterval    = time.Minute
	defaultPprofListen     = "127.0.0.1:6060"
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root daemon configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Pprof   PprofConfig   `toml:"pprof"`
	Server  ServerConfig  `toml:"server"`
	Ingress IngressConfig `toml:"ingress"`
	Sink    SinkConfig    `toml:"sink"`
	Self    SelfConfig    `toml:"self"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ServerConfig defines the gRPC atom intake listener.
// Params: listen address and request size limit.
// Returns: server settings.
type ServerConfig struct {
	Listen       string `toml:"listen"`
	MaxRecvBytes int    `toml:"max_recv_bytes"`
}

// IngressConfig groups optional non-gRPC atom inputs.
type IngressConfig struct {
	NATS NATSIngressConfig `toml:"nats"`
}

// NATSIngressConfig defines a NATS subject carrying CBOR-encoded atoms.
// Params: server url and subject.
// Returns: ingress settings.
type NATSIngressConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// SinkConfig groups event destinations; every enabled sink receives every event.
type SinkConfig struct {
	Log       LogEventSinkConfig `toml:"log"`
	NATS      NATSSinkConfig     `toml:"nats"`
	Collector []CollectorConfig  `toml:"collector"`
}

// LogEventSinkConfig enables debug logging of committed events.
type LogEventSinkConfig struct {
	Enabled bool `toml:"enabled"`
}

// NATSSinkConfig defines NATS publishing of encoded events.
// Params: server url and subject prefix; events go to <prefix>.<atom_id>.
// Returns: sink settings.
type NATSSinkConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// CollectorConfig defines collector target and delivery behavior.
// Params: collector endpoints, retry/batch/queue/compression settings.
// Returns: one collector runtime config.
type CollectorConfig struct {
	Name          string               `toml:"name"`
	Addr          []string             `toml:"addr"`
	Timeout       Duration             `toml:"timeout"`
	RetryInterval Duration             `toml:"retry_interval"`
	Compression   string               `toml:"compression"`
	Queue         CollectorQueueConfig `toml:"queue"`
	Batch         CollectorBatchConfig `toml:"batch"`
	Atoms         AtomFilterConfig     `toml:"atoms"`
}

// AtomFilterConfig restricts which atoms a collector receives.
// Params: include/exclude patterns ("*", "10*", "100-199"); empty include admits all.
// Returns: per-collector routing filter.
type AtomFilterConfig struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// CollectorQueueConfig defines disk spool limits.
// Params: queue controls from TOML.
// Returns: per-collector queue settings.
type CollectorQueueConfig struct {
	Enabled   bool     `toml:"enabled"`
	Dir       string   `toml:"dir"`
	MaxEvents uint64   `toml:"max_events"`
	MaxAge    Duration `toml:"max_age"`
}

// CollectorBatchConfig defines in-memory batch limits.
// Params: batch controls from TOML.
// Returns: per-collector batch settings.
type CollectorBatchConfig struct {
	MaxEvents uint64   `toml:"max_events"`
	MaxAge    Duration `toml:"max_age"`
}

// SelfConfig defines periodic reporting of the daemon's own process stats as an atom.
// Params: enabled flag, atom id and interval.
// Returns: self telemetry settings.
type SelfConfig struct {
	Enabled  bool     `toml:"enabled"`
	AtomID   int32    `toml:"atom_id"`
	Interval Duration `toml:"interval"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory in name order.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: none.
func (c *Config) applyDefaults() {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = defaultServerListen
	}
	if c.Server.MaxRecvBytes == 0 {
		c.Server.MaxRecvBytes = defaultMaxRecvBytes
	}

	if strings.TrimSpace(c.Ingress.NATS.Subject) == "" {
		c.Ingress.NATS.Subject = defaultIngressSubject
	}
	if strings.TrimSpace(c.Sink.NATS.SubjectPrefix) == "" {
		c.Sink.NATS.SubjectPrefix = defaultNATSPrefix
	}

	if !c.Sink.Log.Enabled && !c.Sink.NATS.Enabled && len(c.Sink.Collector) == 0 {
		c.Sink.Log.Enabled = true
	}

	for i := range c.Sink.Collector {
		collector := &c.Sink.Collector[i]
		if strings.TrimSpace(collector.Name) == "" {
			collector.Name = fmt.Sprintf("collector-%d", i)
		}
		if collector.Timeout.Duration <= 0 {
			collector.Timeout.Duration = defaultCollectorTO
		}
		if collector.RetryInterval.Duration <= 0 {
			collector.RetryInterval.Duration = defaultCollectorRetry
		}
		if collector.Batch.MaxEvents == 0 {
			collector.Batch.MaxEvents = defaultCollectorBatchN
		}
		if collector.Batch.MaxAge.Duration <= 0 {
			collector.Batch.MaxAge.Duration = defaultCollectorBatchA
		}
		collector.Compression = lowerOrDefault(collector.Compression, defaultCompression)
	}

	if c.Self.AtomID == 0 {
		c.Self.AtomID = defaultSelfAtomID
	}
	if c.Self.Interval.Duration <= 0 {
		c.Self.Interval.Duration = defaultSelfInterval
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validatePprofConfig("pprof", c.Pprof); err != nil {
		return err
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen must be host:port: %w", err)
	}
	if c.Server.MaxRecvBytes < 0 {
		return fmt.Errorf("server.max_recv_bytes cannot be negative")
	}

	if c.Ingress.NATS.Enabled && strings.TrimSpace(c.Ingress.NATS.URL) == "" {
		return fmt.Errorf("ingress.nats.url is required when enabled")
	}
	if c.Sink.NATS.Enabled && strings.TrimSpace(c.Sink.NATS.URL) == "" {
		return fmt.Errorf("sink.nats.url is required when enabled")
	}

	names := make(map[string]struct{}, len(c.Sink.Collector))
	for idx, collector := range c.Sink.Collector {
		path := fmt.Sprintf("sink.collector[%d]", idx)
		if _, exists := names[collector.Name]; exists {
			return fmt.Errorf("%s.name %q is duplicated", path, collector.Name)
		}
		names[collector.Name] = struct{}{}

		if len(collector.Addr) == 0 {
			return fmt.Errorf("%s.addr must contain at least one host:port", path)
		}
		for addrIdx, addr := range collector.Addr {
			if strings.TrimSpace(addr) == "" {
				return fmt.Errorf("%s.addr[%d] cannot be empty", path, addrIdx)
			}
		}

		if err := validateCompression(collector.Compression); err != nil {
			return fmt.Errorf("%s.compression: %w", path, err)
		}
		if _, err := match.NewAtomFilter(collector.Atoms.Include, collector.Atoms.Exclude); err != nil {
			return fmt.Errorf("%s.atoms: %w", path, err)
		}

		if collector.Queue.Enabled {
			if strings.TrimSpace(collector.Queue.Dir) == "" {
				return fmt.Errorf("%s.queue.dir is required when queue is enabled", path)
			}
			if collector.Queue.MaxEvents == 0 && collector.Queue.MaxAge.Duration <= 0 {
				return fmt.Errorf("%s.queue requires max_events > 0 or max_age > 0", path)
			}
		}
	}

	if c.Self.Enabled && (c.Self.AtomID < 1 || c.Self.AtomID >= 10000) {
		return fmt.Errorf("self.atom_id must be in [1, 10000)")
	}

	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validateCompression validates collector batch compression names.
// Params: name is lower-case compression name.
// Returns: error when compression is unsupported.
func validateCompression(name string) error {
	switch name {
	case "none", "lz4", "zstd":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", name)
	}
}

// validatePprofConfig validates optional pprof listener.
// Params: path config path for errors; cfg pprof settings.
// Returns: validation error or nil.
func validatePprofConfig(path string, cfg PprofConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}

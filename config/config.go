// Package config loads the station configuration: stations, band-hop
// recorders, decoder queue sizing, the upload transport and logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"digiskimmer/spot"

	"gopkg.in/yaml.v3"
)

const (
	Version          = "0.34.1"
	DecodingSoftware = "DigiSkimmer " + Version

	TransportSession = "session"
	TransportPacket  = "packet"
	TransportMQTT    = "mqtt"
)

// Config represents the complete skimmer configuration
type Config struct {
	Stations     map[string]StationConfig `yaml:"stations"`
	Recorders    []RecorderConfig         `yaml:"recorders"`
	DecoderQueue DecoderQueueConfig       `yaml:"decoder_queue"`
	Decoder      DecoderConfig            `yaml:"decoder"`
	Parser       ParserConfig             `yaml:"parser"`
	Spool        SpoolConfig              `yaml:"spool"`
	Upload       UploadConfig             `yaml:"upload"`
	Session      SessionConfig            `yaml:"session"`
	Packet       PacketConfig             `yaml:"packet"`
	MQTT         MQTTConfig               `yaml:"mqtt"`
	Archive      ArchiveConfig            `yaml:"archive"`
	Logging      LoggingConfig            `yaml:"logging"`
	TmpPath      string                   `yaml:"tmp_path"`
	LogPath      string                   `yaml:"log_path"`
	LogSpots     bool                     `yaml:"log_spots"`
	StatusLine   bool                     `yaml:"status_line"`

	LoadedFrom string `yaml:"-"`
}

// StationConfig describes one receiving station. Grid and Antenna may be left
// empty; the decode worker back-fills them from receiver telemetry.
type StationConfig struct {
	Callsign string `yaml:"callsign"`
	Grid     string `yaml:"grid"`
	Antenna  string `yaml:"antenna"`
	Login    string `yaml:"login"`
}

// RecorderConfig binds a receiver to a station and a band-hop list.
type RecorderConfig struct {
	Station    string         `yaml:"station"`
	Receiver   ReceiverConfig `yaml:"receiver"`
	Modulation string         `yaml:"modulation"`
	LowCut     float64        `yaml:"lp_cut"`
	Hops       []HopConfig    `yaml:"hops"`
}

// HopConfig is one entry of a band-hop list. Frequency (MHz) is optional and
// resolved from the band table when zero.
type HopConfig struct {
	Band      string  `yaml:"band"`
	Mode      string  `yaml:"mode"`
	Frequency float64 `yaml:"frequency"`
}

// ReceiverConfig points at the receiver front-end.
type ReceiverConfig struct {
	Host                 string   `yaml:"host"`
	Port                 int      `yaml:"port"`
	TuneCommand          []string `yaml:"tune_command"`
	StatusTimeoutSeconds int      `yaml:"status_timeout_seconds"`
}

// DecoderQueueConfig sizes the shared decode queue.
type DecoderQueueConfig struct {
	MaxSize int `yaml:"maxsize"`
	Workers int `yaml:"workers"`
}

// DecoderConfig controls how decoder subprocesses are launched.
type DecoderConfig struct {
	Nice               *int           `yaml:"nice"`
	WaitTimeoutSeconds int            `yaml:"wait_timeout_seconds"`
	DepthGlobal        int            `yaml:"decoding_depth_global"`
	DepthModes         map[string]int `yaml:"decoding_depth_modes"`
	Interval           map[string]int `yaml:"interval"`
}

// ParserConfig names the external program that turns decoder output into spots.
type ParserConfig struct {
	Command []string `yaml:"command"`
}

// SpoolConfig controls how closed audio segments are discovered.
type SpoolConfig struct {
	PollMillis    int `yaml:"poll_millis"`
	SettleSeconds int `yaml:"settle_seconds"`
}

// UploadConfig selects the upload transport and its batching timer.
type UploadConfig struct {
	Transport       string `yaml:"transport"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	JitterSeconds   int    `yaml:"jitter_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	FlushOnShutdown *bool  `yaml:"flush_on_shutdown"`
}

// SessionConfig contains the interactive cluster session settings
type SessionConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_seconds"`
	// CommandTimeoutSeconds bounds each dx command round trip. Zero leaves
	// the per-command reads unbounded; the upload timeout still applies.
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
}

// PacketConfig contains the binary packet transport settings
type PacketConfig struct {
	Host             string  `yaml:"host"`
	Port             int     `yaml:"port"`
	PacketsPerSecond float64 `yaml:"packets_per_second"`
}

// MQTTConfig contains the MQTT publish transport settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// ArchiveConfig controls the SQLite archive of uploaded spots.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	PerModeLimit int    `yaml:"per_mode_limit"`
}

// LoggingConfig contains process log settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.LoadedFrom = filename

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.TmpPath) == "" {
		c.TmpPath = "./tmp/digiskr/"
	}
	if strings.TrimSpace(c.LogPath) == "" {
		c.LogPath = "./log/"
	}
	if c.DecoderQueue.MaxSize <= 0 {
		c.DecoderQueue.MaxSize = 10
	}
	if c.DecoderQueue.Workers <= 0 {
		c.DecoderQueue.Workers = 3
	}
	if c.Decoder.Nice == nil {
		nice := 10
		c.Decoder.Nice = &nice
	}
	if c.Decoder.WaitTimeoutSeconds <= 0 {
		c.Decoder.WaitTimeoutSeconds = 10
	}
	if c.Decoder.DepthGlobal <= 0 {
		c.Decoder.DepthGlobal = 3
	}
	if c.Spool.PollMillis <= 0 {
		c.Spool.PollMillis = 500
	}
	if c.Spool.SettleSeconds <= 0 {
		c.Spool.SettleSeconds = 2
	}
	for i := range c.Recorders {
		if c.Recorders[i].Modulation == "" {
			c.Recorders[i].Modulation = "usb"
		}
		if c.Recorders[i].Receiver.StatusTimeoutSeconds <= 0 {
			c.Recorders[i].Receiver.StatusTimeoutSeconds = 5
		}
		for j := range c.Recorders[i].Hops {
			c.Recorders[i].Hops[j].Mode = strings.ToUpper(strings.TrimSpace(c.Recorders[i].Hops[j].Mode))
		}
	}
	c.Upload.Transport = strings.ToLower(strings.TrimSpace(c.Upload.Transport))
	if c.Upload.Transport == "" {
		c.Upload.Transport = TransportSession
	}
	if c.Upload.IntervalSeconds <= 0 {
		c.Upload.IntervalSeconds = 15
	}
	if c.Upload.JitterSeconds < 0 {
		c.Upload.JitterSeconds = 0
	} else if c.Upload.JitterSeconds == 0 {
		c.Upload.JitterSeconds = 15
	}
	if c.Upload.TimeoutSeconds <= 0 {
		c.Upload.TimeoutSeconds = 60
	}
	if c.Upload.FlushOnShutdown == nil {
		flush := true
		c.Upload.FlushOnShutdown = &flush
	}
	if c.Session.HandshakeTimeoutSeconds <= 0 {
		c.Session.HandshakeTimeoutSeconds = 2
	}
	if c.Packet.Host == "" {
		c.Packet.Host = "report.pskreporter.info"
	}
	if c.Packet.Port <= 0 {
		c.Packet.Port = 4739
	}
	if c.Packet.PacketsPerSecond <= 0 {
		c.Packet.PacketsPerSecond = 1
	}
	if c.MQTT.Port <= 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "digiskimmer/spots"
	}
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join("data", "archive", "spots.db")
	}
	if c.Archive.PerModeLimit <= 0 {
		c.Archive.PerModeLimit = 100000
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = filepath.Join(c.LogPath, "app")
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
}

// Validate reports every configuration problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TmpPath) == "" {
		errs = append(errs, fieldError("tmp_path", "temporary directory is not set"))
	}
	if len(c.Stations) == 0 {
		errs = append(errs, fieldError("stations", "no stations configured"))
	}
	for _, name := range c.StationNames() {
		if strings.TrimSpace(c.Stations[name].Callsign) == "" {
			errs = append(errs, fieldError("stations", fmt.Sprintf("%s->callsign is not set", name)))
		}
	}
	for i, rec := range c.Recorders {
		key := fmt.Sprintf("recorders[%d]", i)
		if _, ok := c.Stations[rec.Station]; !ok {
			errs = append(errs, fieldError(key, fmt.Sprintf("unknown station %q", rec.Station)))
		}
		if len(rec.Hops) == 0 {
			errs = append(errs, fieldError(key, "no hops configured"))
		}
		for j, hop := range rec.Hops {
			if !spot.IsSupportedMode(hop.Mode) {
				errs = append(errs, fieldError(fmt.Sprintf("%s.hops[%d]", key, j), fmt.Sprintf("unknown mode %q", hop.Mode)))
			}
			if strings.TrimSpace(hop.Band) == "" {
				errs = append(errs, fieldError(fmt.Sprintf("%s.hops[%d]", key, j), "band is not set"))
			}
		}
	}
	switch c.Upload.Transport {
	case TransportSession:
		if c.Session.Host == "" || c.Session.Port <= 0 {
			errs = append(errs, fieldError("session", "host and port are required for the session transport"))
		}
	case TransportPacket:
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			errs = append(errs, fieldError("mqtt", "broker is required for the mqtt transport"))
		}
	default:
		errs = append(errs, fieldError("upload.transport", fmt.Sprintf("unknown transport %q", c.Upload.Transport)))
	}
	return errors.Join(errs...)
}

// StationNames returns the configured station names sorted.
func (c *Config) StationNames() []string {
	names := make([]string, 0, len(c.Stations))
	for name := range c.Stations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NiceLevel returns the scheduling niceness applied to decoder processes.
func (c *Config) NiceLevel() int {
	if c.Decoder.Nice == nil {
		return 10
	}
	return *c.Decoder.Nice
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Stations: %s\n", strings.Join(c.StationNames(), ", "))
	for _, rec := range c.Recorders {
		hops := make([]string, 0, len(rec.Hops))
		for _, h := range rec.Hops {
			hops = append(hops, fmt.Sprintf("%s-%s", h.Mode, h.Band))
		}
		fmt.Printf("Recorder %s: %s:%d hops=[%s]\n", rec.Station, rec.Receiver.Host, rec.Receiver.Port, strings.Join(hops, " "))
	}
	fmt.Printf("Decoder queue: maxsize=%d workers=%d nice=%d\n", c.DecoderQueue.MaxSize, c.DecoderQueue.Workers, c.NiceLevel())
	switch c.Upload.Transport {
	case TransportSession:
		fmt.Printf("Upload: session %s:%d\n", c.Session.Host, c.Session.Port)
	case TransportPacket:
		fmt.Printf("Upload: packet %s:%d (%.1f pkt/s)\n", c.Packet.Host, c.Packet.Port, c.Packet.PacketsPerSecond)
	case TransportMQTT:
		fmt.Printf("Upload: mqtt %s:%d (topic: %s)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.Topic)
	}
	if c.Archive.Enabled {
		fmt.Printf("Archive: %s (per mode limit %d)\n", c.Archive.Path, c.Archive.PerModeLimit)
	}
}

func fieldError(key, message string) error {
	return fmt.Errorf("configuration error (key: %s): %s", key, message)
}

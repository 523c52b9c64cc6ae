// Package config loads TreeDrive configuration. Every value has a default;
// a YAML file overlays the defaults and command-line flags override both.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"treedrive/store"
)

// EnvVar names the configuration file when --config is not given.
const EnvVar = "TREEDRIVE_CONFIG"

type Config struct {
	Server  Server  `yaml:"server"`
	Gateway Gateway `yaml:"gateway"`
	Client  Client  `yaml:"client"`
}

type Server struct {
	Listen         string        `yaml:"listen"`
	StorageDir     string        `yaml:"storage_dir"`
	Metadata       Metadata      `yaml:"metadata"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	ReadChunkSize  int           `yaml:"read_chunk_size"`
	SendChunkSize  int           `yaml:"send_chunk_size"`
	MaxLineLength  int           `yaml:"max_line_length"`
	MaxUploadSize  int64         `yaml:"max_upload_size"`
	MaxConnections int           `yaml:"max_connections"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	WriteQueue     int           `yaml:"write_queue"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
}

type Metadata struct {
	Backend string `yaml:"backend"`
	// Path is the snapshot file for the json backend and the database
	// directory for badger.
	Path string `yaml:"path"`
}

type Gateway struct {
	Listen      string        `yaml:"listen"`
	FileServer  string        `yaml:"fileserver"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Gzip        bool          `yaml:"gzip"`
	CookieName  string        `yaml:"cookie_name"`
}

type Client struct {
	Server      string        `yaml:"server"`
	SessionFile string        `yaml:"session_file"`
	Timeout     time.Duration `yaml:"timeout"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Listen:     "0.0.0.0:8270",
			StorageDir: "ServerFiles",
			Metadata: Metadata{
				Backend: store.BackendJSON,
				Path:    "file_metadata.json",
			},
			PollTimeout:   5 * time.Second,
			ReadChunkSize: 1024,
			SendChunkSize: 1024,
			MaxLineLength: 4096,
			MaxUploadSize: 1 << 30,
			WriteTimeout:  30 * time.Second,
			WriteQueue:    32,
			StatsInterval: time.Minute,
		},
		Gateway: Gateway{
			Listen:      "0.0.0.0:8271",
			FileServer:  "127.0.0.1:8270",
			DialTimeout: 5 * time.Second,
			Gzip:        true,
			CookieName:  "username",
		},
		Client: Client{
			Server:      "localhost:8270",
			SessionFile: "~/.treedrive_session.json",
			Timeout:     30 * time.Second,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, or at
// $TREEDRIVE_CONFIG when path is empty. With neither set it returns the
// defaults. Load does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, nil
}

// Validate checks c and reports every problem found, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			result = multierror.Append(result, errors.Errorf(format, args...))
		}
	}

	s := c.Server
	check(s.Listen != "", "server.listen is empty")
	check(s.StorageDir != "", "server.storage_dir is empty")
	check(s.Metadata.Path != "", "server.metadata.path is empty")
	check(s.Metadata.Backend == store.BackendJSON || s.Metadata.Backend == store.BackendBadger,
		"server.metadata.backend %q is not %s or %s", s.Metadata.Backend, store.BackendJSON, store.BackendBadger)
	check(s.PollTimeout > 0, "server.poll_timeout must be positive")
	check(s.ReadChunkSize > 0, "server.read_chunk_size must be positive")
	check(s.SendChunkSize > 0, "server.send_chunk_size must be positive")
	check(s.MaxLineLength > 0, "server.max_line_length must be positive")
	check(s.MaxUploadSize > 0, "server.max_upload_size must be positive")
	check(s.MaxConnections >= 0, "server.max_connections cannot be negative")
	check(s.WriteTimeout > 0, "server.write_timeout must be positive")
	check(s.WriteQueue > 0, "server.write_queue must be positive")
	check(s.StatsInterval >= 0, "server.stats_interval cannot be negative")

	g := c.Gateway
	check(g.Listen != "", "gateway.listen is empty")
	check(g.FileServer != "", "gateway.fileserver is empty")
	check(g.DialTimeout > 0, "gateway.dial_timeout must be positive")
	check(g.CookieName != "", "gateway.cookie_name is empty")

	check(c.Client.Server != "", "client.server is empty")
	check(c.Client.Timeout >= 0, "client.timeout cannot be negative")

	return result.ErrorOrNil()
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

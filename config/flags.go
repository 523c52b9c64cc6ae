package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags registers command-line overrides for configuration fields. Only
// flags given on the command line replace file values.
type Flags struct {
	fs    *pflag.FlagSet
	apply []func(*Config)
}

func NewFlags(fs *pflag.FlagSet) *Flags {
	return &Flags{fs: fs}
}

func (f *Flags) String(name, usage string, field func(*Config) *string) {
	v := f.fs.String(name, *field(Default()), usage)
	f.bind(name, func(c *Config) { *field(c) = *v })
}

func (f *Flags) Int(name, usage string, field func(*Config) *int) {
	v := f.fs.Int(name, *field(Default()), usage)
	f.bind(name, func(c *Config) { *field(c) = *v })
}

func (f *Flags) Int64(name, usage string, field func(*Config) *int64) {
	v := f.fs.Int64(name, *field(Default()), usage)
	f.bind(name, func(c *Config) { *field(c) = *v })
}

func (f *Flags) Duration(name, usage string, field func(*Config) *time.Duration) {
	v := f.fs.Duration(name, *field(Default()), usage)
	f.bind(name, func(c *Config) { *field(c) = *v })
}

func (f *Flags) Bool(name, usage string, field func(*Config) *bool) {
	v := f.fs.Bool(name, *field(Default()), usage)
	f.bind(name, func(c *Config) { *field(c) = *v })
}

func (f *Flags) bind(name string, set func(*Config)) {
	f.apply = append(f.apply, func(c *Config) {
		if f.fs.Changed(name) {
			set(c)
		}
	})
}

// Apply copies every flag set on the command line into c.
func (f *Flags) Apply(c *Config) {
	for _, apply := range f.apply {
		apply(c)
	}
}

func ServerFlags(fs *pflag.FlagSet) *Flags {
	f := NewFlags(fs)
	f.String("listen", "address to accept clients on", func(c *Config) *string { return &c.Server.Listen })
	f.String("storage-dir", "directory holding stored files", func(c *Config) *string { return &c.Server.StorageDir })
	f.String("metadata-backend", "metadata store: json or badger", func(c *Config) *string { return &c.Server.Metadata.Backend })
	f.String("metadata-path", "metadata snapshot file or badger directory", func(c *Config) *string { return &c.Server.Metadata.Path })
	f.Duration("poll-timeout", "longest wait for network events", func(c *Config) *time.Duration { return &c.Server.PollTimeout })
	f.Int("read-chunk-size", "bytes read from a connection at a time", func(c *Config) *int { return &c.Server.ReadChunkSize })
	f.Int("send-chunk-size", "bytes of a download sent per loop cycle", func(c *Config) *int { return &c.Server.SendChunkSize })
	f.Int("max-line-length", "longest accepted control line", func(c *Config) *int { return &c.Server.MaxLineLength })
	f.Int64("max-upload-size", "largest accepted upload in bytes", func(c *Config) *int64 { return &c.Server.MaxUploadSize })
	f.Int("max-connections", "simultaneous client limit, 0 for none", func(c *Config) *int { return &c.Server.MaxConnections })
	f.Duration("write-timeout", "deadline for each write to a client", func(c *Config) *time.Duration { return &c.Server.WriteTimeout })
	f.Int("write-queue", "replies and chunks queued per client before it is throttled", func(c *Config) *int { return &c.Server.WriteQueue })
	f.Duration("stats-interval", "period of the stats log, 0 to disable", func(c *Config) *time.Duration { return &c.Server.StatsInterval })
	return f
}

func GatewayFlags(fs *pflag.FlagSet) *Flags {
	f := NewFlags(fs)
	f.String("listen", "HTTP address to serve on", func(c *Config) *string { return &c.Gateway.Listen })
	f.String("fileserver", "address of the file server", func(c *Config) *string { return &c.Gateway.FileServer })
	f.Duration("dial-timeout", "timeout for each file server exchange", func(c *Config) *time.Duration { return &c.Gateway.DialTimeout })
	f.Bool("gzip", "compress responses for clients that accept it", func(c *Config) *bool { return &c.Gateway.Gzip })
	return f
}

func ClientFlags(fs *pflag.FlagSet) *Flags {
	f := NewFlags(fs)
	f.String("server", "address of the file server", func(c *Config) *string { return &c.Client.Server })
	f.String("session-file", "where the logged-in username is remembered", func(c *Config) *string { return &c.Client.SessionFile })
	f.Duration("timeout", "timeout for each protocol step", func(c *Config) *time.Duration { return &c.Client.Timeout })
	return f
}

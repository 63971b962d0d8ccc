package config

import (
	"fmt"
	"io"
	goos "os"
	"path/filepath"
	"strings"
	"time"

	"github.com/retroplay/retroplay/pkg/os"
	flag "github.com/spf13/pflag"
)

type Config struct {
	Debug      bool
	Data       Data
	Runtime    Runtime
	Input      Input
	Remote     Remote
	Library    Library
	Server     Server
	Monitoring Monitoring
}

// Data describes the on-device storage.
type Data struct {
	Path      string `default:"{user}/.retroplay"`
	LibraryDB string `default:"library.db"`
	SavesDB   string `default:"saves.db"`
	Settings  string `default:"retroplay-settings.json"`
}

type Runtime struct {
	Fps         float64 `default:"60"`
	Width       int     `default:"640"`
	Height      int     `default:"480"`
	Surface     string  `default:"main"`
	InputBuffer int     `default:"64"`
}

// Input holds extra keyboard bindings on top of the default ones,
// key name -> button name.
type Input struct {
	Keys map[string]string
}

type Remote struct {
	// Provider is one of: none, memory, gcs, s3.
	Provider string `default:"none"`
	Bucket   string `default:"retroplay-saves"`
	Endpoint string
	Key      string
	Secret   string
	Secure   bool          `default:"true"`
	Timeout  time.Duration `default:"15s"`
}

type Library struct {
	WatchDir   string
	Extensions []string `default:"[.nes,.sfc,.smc,.gb,.gbc,.gba,.md,.gen,.sms,.gg,.n64,.z64,.bin]"`
	MaxRomSize int64    `default:"67108864"`
}

type Server struct {
	Address     string `default:":8000"`
	Https       bool
	HttpsCert   string
	HttpsKey    string
	HttpsDomain string
	PortRoll    bool
}

type Monitoring struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool
	ProfilingEnabled bool
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

// allows custom config path
var configPath string

// NewConfig loads the config from the file set with the --conf flag
// or from the default locations.
func NewConfig() (conf Config, err error) {
	// --conf has to be known before the rest of the flags
	fs := flag.NewFlagSet("conf", flag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.StringVarP(&configPath, "conf", "c", "", "")
	_ = fs.Parse(goos.Args[1:])

	if err = LoadConfig(&conf, configPath); err != nil {
		return
	}
	err = conf.expandSpecialTags()
	return
}

// ParseFlags updates config values from passed runtime flags.
// Define own flags with default value set to the current config param.
func (c *Config) ParseFlags() {
	flag.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logs")
	flag.StringVar(&c.Data.Path, "data", c.Data.Path, "Device data directory")
	flag.StringVar(&c.Server.Address, "address", c.Server.Address, "Host API address")
	flag.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	flag.StringVar(&c.Remote.Provider, "remote", c.Remote.Provider, "Remote save provider [none, memory, gcs, s3]")
	flag.StringVar(&c.Library.WatchDir, "watch", c.Library.WatchDir, "ROM drop folder to watch")
	flag.StringVarP(&configPath, "conf", "c", configPath, "Set custom configuration file path")
	flag.Parse()
}

// Redacted returns a copy of the config that is safe to log.
func (c Config) Redacted() Config {
	if c.Remote.Secret != "" {
		c.Remote.Secret = "***"
	}
	return c
}

// expandSpecialTags replaces all the special tags in the config.
func (c *Config) expandSpecialTags() error {
	tag := "{user}"
	for _, dir := range []*string{&c.Data.Path, &c.Library.WatchDir} {
		if *dir == "" || !strings.Contains(*dir, tag) {
			continue
		}
		home, err := os.GetUserHome()
		if err != nil {
			return fmt.Errorf("couldn't read user home directory, %w", err)
		}
		*dir = filepath.FromSlash(strings.ReplaceAll(*dir, tag, home))
	}
	return nil
}

// DataFile returns the full path of some file in the data directory.
func (d Data) DataFile(name string) string { return filepath.Join(d.Path, name) }

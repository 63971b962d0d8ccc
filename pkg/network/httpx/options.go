package httpx

import (
	"time"

	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/logger"
)

type (
	Options struct {
		Https        bool
		HttpsCert    string
		HttpsKey     string
		HttpsDomain  string
		PortRoll     bool
		IdleTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Logger       *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

// IsAutoHttpsCert tells that the certificate files are missing and
// certificates should be requested from Let's Encrypt.
func (o *Options) IsAutoHttpsCert() bool { return o.HttpsCert == "" || o.HttpsKey == "" }

func WithPortRoll(roll bool) Option        { return func(opts *Options) { opts.PortRoll = roll } }
func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }

func WithServerConfig(conf config.Server) Option {
	return func(opts *Options) {
		opts.Https = conf.Https
		opts.HttpsCert = conf.HttpsCert
		opts.HttpsKey = conf.HttpsKey
		opts.HttpsDomain = conf.HttpsDomain
		opts.PortRoll = conf.PortRoll
	}
}

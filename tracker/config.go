package main

import (
	"flag"
	"strconv"
	"time"

	"github.com/miracl/conflate"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
)

// Config is the tracker configuration. Values come from the defaults, then the
// config files (merged in order), then flags given on the command line.
type Config struct {
	Port        int    `json:"port"`
	DataDir     string `json:"data_dir"`
	AdminAddr   string `json:"admin_addr"`
	MaxConns    int    `json:"max_conns"`
	IdleTimeout string `json:"idle_timeout"`
	Verbosity   int    `json:"verbosity"`

	idle time.Duration
}

func defaultConfig() Config {
	return Config{
		DataDir:     "tracker_data",
		MaxConns:    256,
		IdleTimeout: "5m",
	}
}

func loadConfig(args []string) (Config, error) {
	app := kingpin.New("tracker", "Directory server for peer-to-peer file sharing.")
	configFiles := app.Flag("config", "Config file (JSON, YAML or TOML). Repeat to merge several.").Short('c').ExistingFiles()
	port := app.Flag("port", "TCP port to listen on (1024-65535).").Short('p').Int()
	dataDir := app.Flag("data", "Directory of the registry database.").String()
	adminAddr := app.Flag("admin", "Address of the read-only HTTP admin API, e.g. 127.0.0.1:8080.").String()
	maxConns := app.Flag("max-conns", "Maximum concurrent client connections.").Int()
	idle := app.Flag("idle-timeout", "Drop connections idle for this long.").String()
	verbosity := app.Flag("verbose", "Log verbosity level.").Short('v').Int()

	if _, err := app.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if len(*configFiles) > 0 {
		c, err := conflate.FromFiles(*configFiles...)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := c.Unmarshal(&cfg); err != nil {
			return Config{}, errors.Wrap(err, "parse config")
		}
	}

	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *maxConns != 0 {
		cfg.MaxConns = *maxConns
	}
	if *idle != "" {
		cfg.IdleTimeout = *idle
	}
	if *verbosity != 0 {
		cfg.Verbosity = *verbosity
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return errors.Errorf("port must be in the range 1024 <= port <= 65535, got %d", c.Port)
	}
	if c.MaxConns < 1 {
		return errors.Errorf("max-conns must be positive, got %d", c.MaxConns)
	}
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil {
		return errors.Wrap(err, "idle-timeout")
	}
	c.idle = d
	return nil
}

// setupLogging points glog at stderr. glog reads its settings from the standard
// flag set, which kingpin never parses.
func setupLogging(verbosity int) {
	flag.Set("logtostderr", "true")
	flag.Set("v", strconv.Itoa(verbosity))
	flag.CommandLine.Parse(nil)
}

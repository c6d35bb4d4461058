package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Writer string `yaml:"writer"`
	} `yaml:"log"`

	MQTT struct {
		Host           string        `yaml:"host"`
		Port           int           `yaml:"port"`
		Path           string        `yaml:"path"`
		Transport      string        `yaml:"transport"`
		TLS            *bool         `yaml:"tls"`
		ClientID       string        `yaml:"client_id"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		PublishTimeout time.Duration `yaml:"publish_timeout"`
	} `yaml:"mqtt"`

	Topics         []string      `yaml:"topics"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	Retention      *int          `yaml:"retention"`
	MessageLogSize *int          `yaml:"message_log_size"`

	HTTPAddr        string        `yaml:"http_addr"`
	ConnectOnStart  *bool         `yaml:"connect_on_start"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type flagValue struct {
	name  string
	value string
}

func loadConfigFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// flagValues lists the settings present in the file as flag assignments.
func (c *fileConfig) flagValues() []flagValue {
	var out []flagValue
	str := func(flag *cli.StringFlag, v string) {
		if v != "" {
			out = append(out, flagValue{flag.Name, v})
		}
	}
	dur := func(flag *cli.DurationFlag, v time.Duration) {
		if v != 0 {
			out = append(out, flagValue{flag.Name, v.String()})
		}
	}

	str(FlagLogLevel, c.Log.Level)
	str(FlagLogWriter, c.Log.Writer)

	str(FlagMQTTHost, c.MQTT.Host)
	if c.MQTT.Port != 0 {
		out = append(out, flagValue{FlagMQTTPort.Name, strconv.Itoa(c.MQTT.Port)})
	}
	str(FlagMQTTPath, c.MQTT.Path)
	str(FlagMQTTTransport, c.MQTT.Transport)
	if c.MQTT.TLS != nil {
		out = append(out, flagValue{FlagMQTTTLS.Name, strconv.FormatBool(*c.MQTT.TLS)})
	}
	str(FlagMQTTClientID, c.MQTT.ClientID)
	str(FlagMQTTUsername, c.MQTT.Username)
	str(FlagMQTTPassword, c.MQTT.Password)
	dur(FlagMQTTConnectTimeout, c.MQTT.ConnectTimeout)
	dur(FlagMQTTPublishTimeout, c.MQTT.PublishTimeout)

	for _, topic := range c.Topics {
		out = append(out, flagValue{FlagTopics.Name, topic})
	}
	dur(FlagDebounceWindow, c.DebounceWindow)
	if c.Retention != nil {
		out = append(out, flagValue{FlagRetention.Name, strconv.Itoa(*c.Retention)})
	}
	if c.MessageLogSize != nil {
		out = append(out, flagValue{FlagMessageLogSize.Name, strconv.Itoa(*c.MessageLogSize)})
	}

	str(FlagHTTPAddr, c.HTTPAddr)
	if c.ConnectOnStart != nil {
		out = append(out, flagValue{FlagConnectOnStart.Name, strconv.FormatBool(*c.ConnectOnStart)})
	}
	dur(FlagShutdownTimeout, c.ShutdownTimeout)

	return out
}

// applyConfigFile fills every flag not set on the command line or through
// its environment variable from the yaml file named by --config.
func applyConfigFile(ctx *cli.Context) error {
	path := ctx.String(FlagConfig.Name)
	if path == "" {
		return nil
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		return err
	}

	explicit := map[string]bool{}
	for _, fv := range cfg.flagValues() {
		if _, seen := explicit[fv.name]; !seen {
			explicit[fv.name] = ctx.IsSet(fv.name)
		}
		if explicit[fv.name] {
			continue
		}
		if err := ctx.Set(fv.name, fv.value); err != nil {
			return fmt.Errorf("config %s: %s: %w", path, fv.name, err)
		}
	}
	return nil
}

package main

import (
	"time"

	"mqtt-telemetry/adapters"
	"mqtt-telemetry/application"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfig = &cli.StringFlag{
	Name:    "config",
	Usage:   "yaml file with defaults for any flag not given explicitly",
	EnvVars: []string{"CONFIG_FILE"},
}

var FlagMQTTHost = &cli.StringFlag{
	Name:    "mqtt-host",
	EnvVars: []string{"MQTT_HOST"},
	Value:   adapters.MQTTDefaultHost,
}

var FlagMQTTPort = &cli.IntFlag{
	Name:    "mqtt-port",
	EnvVars: []string{"MQTT_PORT"},
	Value:   adapters.MQTTDefaultPort,
}

var FlagMQTTPath = &cli.StringFlag{
	Name:    "mqtt-path",
	Usage:   "websocket path on the broker",
	EnvVars: []string{"MQTT_PATH"},
	Value:   adapters.MQTTDefaultPath,
}

var FlagMQTTTransport = &cli.StringFlag{
	Name:    "mqtt-transport",
	Usage:   "one of: [ws, tcp]",
	EnvVars: []string{"MQTT_TRANSPORT"},
	Value:   adapters.MQTTTransportWebSocket,
}

var FlagMQTTTLS = &cli.BoolFlag{
	Name:    "mqtt-tls",
	EnvVars: []string{"MQTT_TLS"},
}

var FlagMQTTClientID = &cli.StringFlag{
	Name:    "mqtt-client-id",
	Usage:   "generated when empty",
	EnvVars: []string{"MQTT_CLIENT_ID"},
}

var FlagMQTTUsername = &cli.StringFlag{
	Name:    "mqtt-username",
	EnvVars: []string{"MQTT_USERNAME"},
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:    "mqtt-password",
	EnvVars: []string{"MQTT_PASSWORD"},
}

var FlagMQTTConnectTimeout = &cli.DurationFlag{
	Name:    "mqtt-connect-timeout",
	EnvVars: []string{"MQTT_CONNECT_TIMEOUT"},
	Value:   adapters.MQTTDefaultConnectTimeout,
}

var FlagMQTTPublishTimeout = &cli.DurationFlag{
	Name:    "mqtt-publish-timeout",
	EnvVars: []string{"MQTT_PUBLISH_TIMEOUT"},
	Value:   adapters.MQTTDefaultPublishTimeout,
}

var FlagTopics = &cli.StringSliceFlag{
	Name:    "topics",
	Usage:   "any of: [temperature, luminosity, button]",
	EnvVars: []string{"TOPICS"},
	Value:   cli.NewStringSlice("temperature", "luminosity", "button"),
}

var FlagDebounceWindow = &cli.DurationFlag{
	Name:    "debounce-window",
	Usage:   "minimum interval between accepted button toggles, 0 uses the default and a negative value disables it",
	EnvVars: []string{"DEBOUNCE_WINDOW"},
	Value:   application.DefaultDebounceWindow,
}

var FlagRetention = &cli.IntFlag{
	Name:    "retention",
	Usage:   "readings kept per topic, 0 keeps all",
	EnvVars: []string{"RETENTION"},
	Value:   1000,
}

var FlagMessageLogSize = &cli.IntFlag{
	Name:    "message-log-size",
	Usage:   "raw messages kept for /messages, negative disables",
	EnvVars: []string{"MESSAGE_LOG_SIZE"},
	Value:   application.DefaultMessageLogSize,
}

var FlagHTTPAddr = &cli.StringFlag{
	Name:    "http-addr",
	EnvVars: []string{"HTTP_ADDR"},
	Value:   adapters.HTTPDefaultAddr,
}

var FlagConnectOnStart = &cli.BoolFlag{
	Name:    "connect-on-start",
	EnvVars: []string{"CONNECT_ON_START"},
	Value:   true,
}

var FlagShutdownTimeout = &cli.DurationFlag{
	Name:    "shutdown-timeout",
	EnvVars: []string{"SHUTDOWN_TIMEOUT"},
	Value:   5 * time.Second,
}

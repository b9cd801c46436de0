package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"

	"github.com/wtask/linechat/internal/chat"
)

const (
	modeServer = "server"
	modeClient = "client"
)

// Config - linechat configuration, environment provides defaults and flags overwrite them.
type Config struct {
	Mode string `env:"LINECHAT_MODE,default=server" validate:"oneof=server client"`
	// IP - bind address for server, server address for client
	IP   string `env:"LINECHAT_IP" validate:"omitempty,ip|hostname"`
	Port int    `env:"LINECHAT_PORT,default=20000" validate:"min=0,max=65535"`
	Name string `env:"LINECHAT_NAME" validate:"required_if=Mode client"`

	LogLevel    string `env:"LINECHAT_LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	EventLog    string `env:"LINECHAT_EVENT_LOG,default=linechat.log"`
	SessionDB   string `env:"LINECHAT_SESSION_DB,default=linechat-sessions"`
	MetricsAddr string `env:"LINECHAT_METRICS_ADDR" validate:"omitempty,hostname_port"`

	WriteTimeout     time.Duration `env:"LINECHAT_WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	IdleTimeout      time.Duration `env:"LINECHAT_IDLE_TIMEOUT,default=0s" validate:"gte=0"`
	HandshakeTimeout time.Duration `env:"LINECHAT_HANDSHAKE_TIMEOUT,default=30s" validate:"gt=0"`
	StopTimeout      time.Duration `env:"LINECHAT_STOP_TIMEOUT,default=5s" validate:"gt=0"`
	DialTimeout      time.Duration `env:"LINECHAT_DIAL_TIMEOUT,default=5s" validate:"gt=0"`

	OutboxSize    int  `env:"LINECHAT_OUTBOX_SIZE,default=64" validate:"gt=0"`
	MaxLineSize   int  `env:"LINECHAT_MAX_LINE_SIZE,default=0" validate:"gte=0"`
	HistorySize   int  `env:"LINECHAT_HISTORY_SIZE,default=100" validate:"gte=0"`
	HistoryGreets int  `env:"LINECHAT_HISTORY_GREETS,default=10" validate:"gte=0"`
	JoinNotices   bool `env:"LINECHAT_JOIN_NOTICES,default=false"`
	PartNotices   bool `env:"LINECHAT_PART_NOTICES,default=true"`
}

// parseConfig - reads environment, then command-line args, and validates result.
// Returns flag.ErrHelp when usage was requested.
func parseConfig(args []string, out io.Writer) (Config, error) {
	config := Config{}
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return config, fmt.Errorf("environment: %w", err)
	}

	fs := flag.NewFlagSet(BinaryName, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Text chat over TCP (v%s)\n\n\t%s [options]\nOptions:\n\n", Version, BinaryName)
		fs.PrintDefaults()
		fmt.Fprint(out, "\n")
	}
	fs.StringVar(&config.Mode, "mode", config.Mode, "Run mode, server or client")
	fs.StringVar(&config.IP, "ip", config.IP, "Listen address in server mode, server address in client mode")
	fs.IntVar(&config.Port, "port", config.Port, "Listen port in server mode, server port in client mode")
	fs.StringVar(&config.Name, "name", config.Name, "Display name in client mode")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level: DEBUG, INFO, WARN or ERROR")
	fs.StringVar(&config.EventLog, "event-log", config.EventLog, "Chat event log file, empty disables event log")
	fs.StringVar(&config.SessionDB, "session-db", config.SessionDB, "Session store directory, empty disables session records")
	fs.StringVar(&config.MetricsAddr, "metrics", config.MetricsAddr, "Address of Prometheus /metrics endpoint, empty disables it")
	fs.DurationVar(&config.IdleTimeout, "idle-timeout", config.IdleTimeout, "Idle duration before participant is disconnected, 0 disables it")
	fs.DurationVar(&config.WriteTimeout, "write-timeout", config.WriteTimeout, "Bound of a single write to participant")
	fs.IntVar(&config.MaxLineSize, "max-line", config.MaxLineSize, "Max incoming line size in bytes, 0 means no limit")
	fs.IntVar(&config.HistorySize, "history", config.HistorySize, "Num of relayed lines kept in memory, 0 disables history")
	fs.IntVar(
		&config.HistoryGreets,
		"history-greets",
		config.HistoryGreets,
		"Num of messages from chat history which is pushed to newly connected participant",
	)
	fs.BoolVar(&config.JoinNotices, "join-notices", config.JoinNotices, "Notify participants about newcomers")
	fs.BoolVar(&config.PartNotices, "part-notices", config.PartNotices, "Notify participants about parted ones")

	if err := fs.Parse(args); err != nil {
		return config, err
	}
	if fs.NArg() > 0 {
		return config, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	config.Mode = strings.ToLower(strings.TrimSpace(config.Mode))
	config.LogLevel = strings.ToUpper(strings.TrimSpace(config.LogLevel))
	config.Name = strings.TrimSpace(config.Name)
	if err := validator.New().Struct(config); err != nil {
		return config, err
	}
	return config, nil
}

// brokerConfig - part of config related to broker.
func (c Config) brokerConfig() chat.BrokerConfig {
	return chat.BrokerConfig{
		WriteTimeout:     c.WriteTimeout,
		IdleTimeout:      c.IdleTimeout,
		HandshakeTimeout: c.HandshakeTimeout,
		StopTimeout:      c.StopTimeout,
		OutboxSize:       c.OutboxSize,
		MaxLineSize:      c.MaxLineSize,
		HistorySize:      c.HistorySize,
		Greets:           c.HistoryGreets,
		JoinNotices:      c.JoinNotices,
		PartNotices:      c.PartNotices,
	}
}

// serverHost - host to dial in client mode.
func (c Config) serverHost() string {
	if c.IP == "" {
		return "127.0.0.1"
	}
	return c.IP
}

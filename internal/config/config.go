// Package config loads yacall.ini. Every key can be overridden with an
// environment variable named YACALL_<SECTION>_<KEY>, e.g.
// YACALL_AGENT_USER_ID.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

const envPrefix = "YACALL_"

type Config struct {
	Server    ServerConfig
	Agent     AgentConfig
	Signaling SignalingConfig
	Media     MediaConfig
	Directory DirectoryConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Addr string
	// SeedProfiles is a comma separated id=name list loaded into the memory
	// profile store.
	SeedProfiles    string
	ShutdownTimeout time.Duration
}

type AgentConfig struct {
	Addr      string
	UserID    string
	Name      string
	CallKind  string
	Teardown  time.Duration
	Join      time.Duration
	Leave     time.Duration
	Send      time.Duration
	Directory time.Duration
}

type SignalingConfig struct {
	// Transport is one of ws, redis, memory.
	Transport string
	URL       string
}

type MediaConfig struct {
	BaseURL       string
	ICEServers    []string
	GatherTimeout time.Duration
}

type DirectoryConfig struct {
	URL     string
	Timeout time.Duration
}

type DatabaseConfig struct {
	// DSN enables the Postgres profile store when set. Never logged.
	DSN      string
	MaxConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type LoggingConfig struct {
	Level      string
	Console    bool
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Load reads path. A missing file is not an error: defaults and the
// environment still apply.
func Load(path string) (Config, error) {
	var src any = []byte{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			src = path
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	file, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, src)
	if err != nil {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return FromINI(file)
}

func FromINI(file *ini.File) (Config, error) {
	applyEnv(file)

	c := Config{}

	sec := file.Section("server")
	c.Server.Addr = sec.Key("addr").MustString(":8080")
	c.Server.SeedProfiles = sec.Key("seed_profiles").String()
	c.Server.ShutdownTimeout = sec.Key("shutdown_timeout").MustDuration(5 * time.Second)

	sec = file.Section("agent")
	c.Agent.Addr = sec.Key("addr").MustString(":8081")
	c.Agent.UserID = strings.TrimSpace(sec.Key("user_id").String())
	c.Agent.Name = sec.Key("name").String()
	c.Agent.CallKind = sec.Key("call_kind").MustString("audio")
	c.Agent.Teardown = sec.Key("teardown_delay").MustDuration(200 * time.Millisecond)
	c.Agent.Join = sec.Key("join_timeout").MustDuration(10 * time.Second)
	c.Agent.Leave = sec.Key("leave_timeout").MustDuration(5 * time.Second)
	c.Agent.Send = sec.Key("send_timeout").MustDuration(3 * time.Second)
	c.Agent.Directory = sec.Key("directory_timeout").MustDuration(5 * time.Second)

	sec = file.Section("signaling")
	c.Signaling.Transport = strings.ToLower(sec.Key("transport").MustString("ws"))
	c.Signaling.URL = sec.Key("url").MustString("ws://localhost:8080/ws")

	sec = file.Section("media")
	c.Media.BaseURL = sec.Key("base_url").MustString("http://localhost:8080")
	c.Media.ICEServers = sec.Key("ice_servers").Strings(",")
	c.Media.GatherTimeout = sec.Key("gather_timeout").MustDuration(2 * time.Second)

	sec = file.Section("directory")
	c.Directory.URL = sec.Key("url").MustString("http://localhost:8080")
	c.Directory.Timeout = sec.Key("timeout").MustDuration(5 * time.Second)

	sec = file.Section("database")
	c.Database.DSN = sec.Key("dsn").String()
	c.Database.MaxConns = sec.Key("max_conns").MustInt(10)

	sec = file.Section("redis")
	c.Redis.Addr = sec.Key("addr").MustString("localhost:6379")
	c.Redis.Password = sec.Key("password").String()
	c.Redis.DB = sec.Key("db").MustInt(0)
	c.Redis.Prefix = sec.Key("prefix").MustString("yacall:signal:")

	sec = file.Section("logging")
	c.Logging.Level = strings.ToLower(sec.Key("level").MustString("info"))
	c.Logging.Console = sec.Key("console").MustBool(true)
	c.Logging.File = sec.Key("file").String()
	c.Logging.MaxSizeMB = sec.Key("max_size_mb").MustInt(100)
	c.Logging.MaxBackups = sec.Key("max_backups").MustInt(1)

	return c, nil
}

// applyEnv copies YACALL_<SECTION>_<KEY> variables into file.
func applyEnv(file *ini.File) {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		rest := strings.ToLower(strings.TrimPrefix(name, envPrefix))
		section, key, ok := strings.Cut(rest, "_")
		if !ok || section == "" || key == "" {
			continue
		}
		file.Section(section).Key(key).SetValue(value)
	}
}

// ValidateServer checks what cmd/server needs.
func (c Config) ValidateServer() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.DSN != "" && c.Database.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("database.max_conns must be > 0, got %d", c.Database.MaxConns))
	}
	errs = append(errs, c.Logging.validate()...)
	return errors.Join(errs...)
}

// ValidateAgent checks what cmd/agent needs.
func (c Config) ValidateAgent() error {
	var errs []error
	if c.Agent.UserID == "" {
		errs = append(errs, errors.New("agent.user_id is required"))
	}
	if c.Agent.Addr == "" {
		errs = append(errs, errors.New("agent.addr is required"))
	}
	if c.Agent.CallKind != "audio" && c.Agent.CallKind != "video" {
		errs = append(errs, fmt.Errorf("agent.call_kind must be audio or video, got %q", c.Agent.CallKind))
	}
	if c.Agent.Teardown <= 0 {
		errs = append(errs, fmt.Errorf("agent.teardown_delay must be > 0, got %s", c.Agent.Teardown))
	}
	switch c.Signaling.Transport {
	case "ws":
		if c.Signaling.URL == "" {
			errs = append(errs, errors.New("signaling.url is required for the ws transport"))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis transport"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("signaling.transport must be ws, redis or memory, got %q", c.Signaling.Transport))
	}
	if c.Media.BaseURL == "" {
		errs = append(errs, errors.New("media.base_url is required"))
	}
	errs = append(errs, c.Logging.validate()...)
	return errors.Join(errs...)
}

func (l LoggingConfig) validate() []error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
		return nil
	}
	return []error{fmt.Errorf("logging.level %q is not a zerolog level", l.Level)}
}

// Package config turns viper settings into the explicit values threaded
// through the supervisor, runners and executor.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"proxy-keepalive/pkg/database"
	"proxy-keepalive/pkg/proxy"
)

// ErrNoProxies is returned when no usable proxy identifiers were supplied.
var ErrNoProxies = errors.New("no proxies available")

// ConfigurationError reports a setting that prevents the supervisor from running.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Settings struct {
	Credential string
	Proxies    Proxies
	API        API
	Session    Session
	Supervisor Supervisor
	Store      Store
	Database   database.Config
	LogFile    string
}

type Proxies struct {
	File      string
	Scheme    proxy.Scheme
	PruneDead bool
}

type API struct {
	SessionURL       string
	PingURL          string
	Timeout          time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration
	UnauthorizedCode int
}

type Session struct {
	PingInterval    time.Duration
	Freshness       time.Duration
	MaxPingFailures int
}

type Supervisor struct {
	Concurrency int
	IdleDelay   time.Duration
}

type Store struct {
	Backend    string
	Dir        string
	StatusFile string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("proxies.file", "proxy.txt")
	v.SetDefault("proxies.scheme", string(proxy.SchemeHTTP))
	v.SetDefault("proxies.prune_dead", false)

	v.SetDefault("api.session_url", "https://api.nodepay.ai/api/auth/session")
	v.SetDefault("api.ping_url", "https://nw.nodepay.org/api/network/ping")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.max_attempts", 3)
	v.SetDefault("api.retry_delay", 5*time.Second)
	v.SetDefault("api.unauthorized_code", 403)

	v.SetDefault("session.ping_interval", 30*time.Second)
	v.SetDefault("session.freshness", 24*time.Hour)
	v.SetDefault("session.max_ping_failures", 0)

	v.SetDefault("supervisor.concurrency", 10)
	v.SetDefault("supervisor.idle_delay", 3*time.Second)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.dir", "sessions")
	v.SetDefault("store.status_file", "proxy_status.json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("log.file", "")
}

// Load reads Settings from v. It fails only on values that cannot be parsed;
// use Validate before running the supervisor.
func Load(v *viper.Viper) (Settings, error) {
	scheme, err := proxy.ParseScheme(v.GetString("proxies.scheme"))
	if err != nil {
		return Settings{}, &ConfigurationError{Key: "proxies.scheme", Err: err}
	}

	return Settings{
		Credential: v.GetString("credential"),
		Proxies: Proxies{
			File:      v.GetString("proxies.file"),
			Scheme:    scheme,
			PruneDead: v.GetBool("proxies.prune_dead"),
		},
		API: API{
			SessionURL:       v.GetString("api.session_url"),
			PingURL:          v.GetString("api.ping_url"),
			Timeout:          v.GetDuration("api.timeout"),
			MaxAttempts:      v.GetInt("api.max_attempts"),
			RetryDelay:       v.GetDuration("api.retry_delay"),
			UnauthorizedCode: v.GetInt("api.unauthorized_code"),
		},
		Session: Session{
			PingInterval:    v.GetDuration("session.ping_interval"),
			Freshness:       v.GetDuration("session.freshness"),
			MaxPingFailures: v.GetInt("session.max_ping_failures"),
		},
		Supervisor: Supervisor{
			Concurrency: v.GetInt("supervisor.concurrency"),
			IdleDelay:   v.GetDuration("supervisor.idle_delay"),
		},
		Store: Store{
			Backend:    v.GetString("store.backend"),
			Dir:        v.GetString("store.dir"),
			StatusFile: v.GetString("store.status_file"),
		},
		Database: database.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		LogFile: v.GetString("log.file"),
	}, nil
}

// Validate checks the settings needed to run sessions.
func (s Settings) Validate() error {
	if s.Credential == "" {
		return &ConfigurationError{Key: "credential", Err: errors.New("a bearer credential is required")}
	}
	endpoints := []struct{ key, raw string }{
		{"api.session_url", s.API.SessionURL},
		{"api.ping_url", s.API.PingURL},
	}
	for _, e := range endpoints {
		u, err := url.Parse(e.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigurationError{Key: e.key, Err: fmt.Errorf("invalid endpoint %q", e.raw)}
		}
	}

	positive := []struct {
		key string
		ok  bool
	}{
		{"api.timeout", s.API.Timeout > 0},
		{"api.max_attempts", s.API.MaxAttempts > 0},
		{"api.retry_delay", s.API.RetryDelay > 0},
		{"session.ping_interval", s.Session.PingInterval > 0},
		{"session.freshness", s.Session.Freshness > 0},
		{"session.max_ping_failures", s.Session.MaxPingFailures >= 0},
		{"supervisor.concurrency", s.Supervisor.Concurrency > 0},
		{"supervisor.idle_delay", s.Supervisor.IdleDelay > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return &ConfigurationError{Key: p.key, Err: errors.New("value out of range")}
		}
	}

	switch s.Store.Backend {
	case BackendFile:
		if s.Store.Dir == "" {
			return &ConfigurationError{Key: "store.dir", Err: errors.New("a session directory is required")}
		}
	case BackendPostgres:
		if s.Database.DBName == "" {
			return &ConfigurationError{Key: "database.dbname", Err: errors.New("a database name is required")}
		}
	default:
		return &ConfigurationError{Key: "store.backend", Err: fmt.Errorf("unknown backend %q", s.Store.Backend)}
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
	iterrors "github.com/randalmurphal/insighttrack/pkg/insighttrack/errors"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults for service settings.
const (
	DefaultListen      = ":8080"
	DefaultInitTimeout = 30 * time.Second
)

// Settings is the typed form of a service configuration file.
type Settings struct {
	Mode          insighttrack.DeliveryMode
	MaxConcurrent int
	InitPolicy    insighttrack.InitPolicy
	InitTimeout   time.Duration
	InitRetry     iterrors.RetryConfig
	AutoActivate  bool
	Listen        string
	LogLevel      slog.Level
	Adapters      []AdapterSettings
}

// AdapterSettings describes one configured destination.
type AdapterSettings struct {
	Name     string
	Type     string
	Priority int
	// Events restricts the adapter to these names. Empty means all events.
	Events []string
	// EventsFile is an event config file; its names are added to Events.
	EventsFile string
	Options    Config
}

// ParseService validates cfg and converts it into Settings.
//
// Example document:
//
//	delivery: async          # async | sync
//	max_concurrent: 8
//	init_policy: continue    # continue | abort
//	init_timeout: 30s
//	init_retry:
//	  max_attempts: 3
//	  initial_backoff: 500ms
//	auto_activate: true
//	listen: ":8080"
//	log_level: info
//	adapters:
//	  - name: audit
//	    type: log
//	    events: [login, purchase]
//	  - name: warehouse
//	    type: sqlite
//	    priority: 1
//	    options:
//	      path: ./events.db
func ParseService(cfg Config) (Settings, error) {
	s := Settings{
		MaxConcurrent: cfg.Int("max_concurrent", 0),
		InitTimeout:   cfg.Duration("init_timeout", DefaultInitTimeout),
		AutoActivate:  cfg.Bool("auto_activate", false),
		Listen:        cfg.String("listen", DefaultListen),
		InitRetry:     iterrors.NoRetry,
	}

	var errs []error

	switch mode := strings.ToLower(cfg.String("delivery", "async")); mode {
	case "async":
		s.Mode = insighttrack.DeliveryAsync
	case "sync":
		s.Mode = insighttrack.DeliverySync
	default:
		errs = append(errs, fmt.Errorf("%w: delivery %q: want async or sync", ErrInvalidConfig, mode))
	}

	switch policy := strings.ToLower(cfg.String("init_policy", "continue")); policy {
	case "continue":
		s.InitPolicy = insighttrack.InitPolicyContinue
	case "abort":
		s.InitPolicy = insighttrack.InitPolicyAbort
	default:
		errs = append(errs, fmt.Errorf("%w: init_policy %q: want continue or abort", ErrInvalidConfig, policy))
	}

	if err := s.LogLevel.UnmarshalText([]byte(cfg.String("log_level", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err))
	}

	if s.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("%w: max_concurrent must not be negative", ErrInvalidConfig))
	}
	if s.InitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: init_timeout must be positive", ErrInvalidConfig))
	}

	if cfg.Has("init_retry") {
		r := cfg.Sub("init_retry")
		s.InitRetry = iterrors.NewRetryConfig(
			iterrors.WithMaxAttempts(r.Int("max_attempts", iterrors.DefaultRetry.MaxAttempts)),
			iterrors.WithInitialBackoff(r.Duration("initial_backoff", iterrors.DefaultRetry.InitialBackoff)),
			iterrors.WithMaxBackoff(r.Duration("max_backoff", iterrors.DefaultRetry.MaxBackoff)),
		)
	}

	seen := make(map[string]bool)
	for i, ac := range cfg.List("adapters") {
		a := AdapterSettings{
			Name:       ac.String("name", ""),
			Type:       strings.ToLower(ac.String("type", "")),
			Priority:   ac.Int("priority", 0),
			Events:     ac.StringSlice("events", nil),
			EventsFile: ac.String("events_file", ""),
			Options:    ac.Sub("options"),
		}
		if a.Name == "" {
			a.Name = a.Type
		}
		switch {
		case a.Type == "":
			errs = append(errs, fmt.Errorf("%w: adapters[%d]: type is required", ErrInvalidConfig, i))
			continue
		case seen[a.Name]:
			errs = append(errs, fmt.Errorf("%w: adapters[%d]: duplicate name %q", ErrInvalidConfig, i, a.Name))
			continue
		}
		seen[a.Name] = true
		s.Adapters = append(s.Adapters, a)
	}

	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadService reads and parses a service configuration file.
func LoadService(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return ParseService(cfg)
}

// ServiceOptions returns the insighttrack options these settings imply.
// Hooks and observability options are left to the caller.
func (s Settings) ServiceOptions() []insighttrack.Option {
	return []insighttrack.Option{
		insighttrack.WithDeliveryMode(s.Mode),
		insighttrack.WithMaxConcurrentDeliveries(s.MaxConcurrent),
		insighttrack.WithInitPolicy(s.InitPolicy),
		insighttrack.WithInitRetry(s.InitRetry),
	}
}

// EventConfig resolves the adapter's event filter from Events and
// EventsFile. It returns nil when the adapter accepts every event.
func (a AdapterSettings) EventConfig() (insighttrack.EventConfig, error) {
	names := a.Events
	if a.EventsFile != "" {
		fromFile, err := LoadEventConfig(a.EventsFile)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", a.Name, err)
		}
		names = append(append([]string(nil), names...), fromFile...)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return insighttrack.NewEventList(names...), nil
}

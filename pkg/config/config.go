// Package config loads FORGE's single YAML configuration file into the
// typed config structs each component already defines (recovery policies,
// router model table, stuck-task detector, monitored workspaces,
// cadences), following the teacher's decode-then-validate idiom
// (cmd/warren's `apply` command reads a file, unmarshals it with
// gopkg.in/yaml.v3, and returns a wrapped error on failure).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedarden/forge/pkg/recovery"
	"github.com/jedarden/forge/pkg/router"
	"github.com/jedarden/forge/pkg/stuck"
	"gopkg.in/yaml.v3"
)

// Cadences holds the driver loop's periodic-work intervals. Zero fields
// fall back to DefaultCadences' values at load time.
type Cadences struct {
	StatusPoll        time.Duration `yaml:"status_poll"`
	IssueStorePoll    time.Duration `yaml:"issue_store_poll"`
	TmuxDiscovery     time.Duration `yaml:"tmux_discovery"`
	CostReaggregation time.Duration `yaml:"cost_reaggregation"`
	LogWatcher        time.Duration `yaml:"log_watcher"`
	SubscriptionPoll  time.Duration `yaml:"subscription_poll"`
	HealthCheck       time.Duration `yaml:"health_check"`
	RecoveryCheck     time.Duration `yaml:"recovery_check"`
}

// DefaultCadences mirrors the commonly deployed cadences.
func DefaultCadences() Cadences {
	return Cadences{
		StatusPoll:        100 * time.Millisecond,
		IssueStorePoll:    30 * time.Second,
		TmuxDiscovery:     5 * time.Second,
		CostReaggregation: 10 * time.Minute,
		LogWatcher:        500 * time.Millisecond,
		SubscriptionPoll:  60 * time.Second,
		HealthCheck:       30 * time.Second,
		RecoveryCheck:     30 * time.Second,
	}
}

// Paths names the files and directories the core reads from and writes
// to under its home configuration tree (default ~/.forge/).
type Paths struct {
	StatusDir string `yaml:"status_dir"`
	CostDB    string `yaml:"cost_db"`
}

// DefaultPaths resolves StatusDir/CostDB under home (HOME env var).
func DefaultPaths(home string) Paths {
	return Paths{
		StatusDir: filepath.Join(home, ".forge", "status"),
		CostDB:    filepath.Join(home, ".forge", "costs.db"),
	}
}

// policyYAML is the wire shape recovery.Policy is decoded from: a string
// kind plus the two AutoRecover-only fields, left zero otherwise.
type policyYAML struct {
	Kind        string        `yaml:"kind"`
	MaxAttempts uint8         `yaml:"max_attempts"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

func (p policyYAML) toPolicy(fallback recovery.Policy) (recovery.Policy, error) {
	switch p.Kind {
	case "":
		return fallback, nil
	case "disabled":
		return recovery.Policy{Kind: recovery.Disabled}, nil
	case "notify_only":
		return recovery.Policy{Kind: recovery.NotifyOnly}, nil
	case "auto_recover":
		return recovery.AutoRecoverPolicy(p.MaxAttempts, p.Cooldown), nil
	default:
		return recovery.Policy{}, fmt.Errorf("unknown policy kind %q", p.Kind)
	}
}

// modelYAML is router.ModelConfig's YAML wire shape.
type modelYAML struct {
	ID                   string  `yaml:"id"`
	Name                 string  `yaml:"name"`
	HasSubscription      bool    `yaml:"has_subscription"`
	MaxTokens            uint32  `yaml:"max_tokens"`
	CostPerMillionInput  float64 `yaml:"cost_per_million_input"`
	CostPerMillionOutput float64 `yaml:"cost_per_million_output"`
}

func (m modelYAML) toModelConfig() router.ModelConfig {
	return router.ModelConfig{
		ID: m.ID, Name: m.Name, HasSubscription: m.HasSubscription,
		MaxTokens: m.MaxTokens, CostPerMillionInput: m.CostPerMillionInput,
		CostPerMillionOutput: m.CostPerMillionOutput,
	}
}

// file is the top-level YAML document shape.
type file struct {
	Workspaces []string `yaml:"workspaces"`
	Paths      struct {
		StatusDir string `yaml:"status_dir"`
		CostDB    string `yaml:"cost_db"`
	} `yaml:"paths"`
	Cadences struct {
		StatusPoll        time.Duration `yaml:"status_poll"`
		IssueStorePoll    time.Duration `yaml:"issue_store_poll"`
		TmuxDiscovery     time.Duration `yaml:"tmux_discovery"`
		CostReaggregation time.Duration `yaml:"cost_reaggregation"`
		LogWatcher        time.Duration `yaml:"log_watcher"`
		SubscriptionPoll  time.Duration `yaml:"subscription_poll"`
		HealthCheck       time.Duration `yaml:"health_check"`
		RecoveryCheck     time.Duration `yaml:"recovery_check"`
	} `yaml:"cadences"`
	Router struct {
		PreferSubscription  *bool       `yaml:"prefer_subscription"`
		EnableLoadBalancing *bool       `yaml:"enable_load_balancing"`
		Premium             []modelYAML `yaml:"premium"`
		Standard            []modelYAML `yaml:"standard"`
		Budget              []modelYAML `yaml:"budget"`
	} `yaml:"router"`
	Recovery struct {
		Enabled              *bool         `yaml:"enabled"`
		CheckInterval        time.Duration `yaml:"check_interval"`
		DeadWorkerPolicy     policyYAML    `yaml:"dead_worker_policy"`
		MemoryLeakPolicy     policyYAML    `yaml:"memory_leak_policy"`
		StuckTaskPolicy      policyYAML    `yaml:"stuck_task_policy"`
		StaleAssigneePolicy  policyYAML    `yaml:"stale_assignee_policy"`
		MemoryThresholdMB    uint64        `yaml:"memory_threshold_mb"`
		MemoryKillThresholdMB uint64       `yaml:"memory_kill_threshold_mb"`
		StuckTaskTimeout     time.Duration `yaml:"stuck_task_timeout"`
		StaleAssigneeTimeout time.Duration `yaml:"stale_assignee_timeout"`
	} `yaml:"recovery"`
}

// Config is FORGE's fully resolved, validated runtime configuration.
type Config struct {
	Workspaces []string
	Paths      Paths
	Cadences   Cadences
	Router     router.Config
	Recovery   recovery.Config
}

// Load reads and decodes the YAML file at path, merging it over defaults
// seeded from router.DefaultConfig/recovery.DefaultConfig/DefaultCadences
// so a config file may specify only what it wants to override. A missing
// file is not an error: Load returns pure defaults instead, matching the
// issue-store adapter's "tolerate missing configuration" stance.
func Load(path, home string) (Config, error) {
	cfg := Config{
		Paths:    DefaultPaths(home),
		Cadences: DefaultCadences(),
		Router:   router.DefaultConfig(),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.Recovery = recovery.DefaultConfig(cfg.Workspaces)
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(f.Workspaces) > 0 {
		cfg.Workspaces = f.Workspaces
	}
	if f.Paths.StatusDir != "" {
		cfg.Paths.StatusDir = f.Paths.StatusDir
	}
	if f.Paths.CostDB != "" {
		cfg.Paths.CostDB = f.Paths.CostDB
	}

	applyCadence(&cfg.Cadences.StatusPoll, f.Cadences.StatusPoll)
	applyCadence(&cfg.Cadences.IssueStorePoll, f.Cadences.IssueStorePoll)
	applyCadence(&cfg.Cadences.TmuxDiscovery, f.Cadences.TmuxDiscovery)
	applyCadence(&cfg.Cadences.CostReaggregation, f.Cadences.CostReaggregation)
	applyCadence(&cfg.Cadences.LogWatcher, f.Cadences.LogWatcher)
	applyCadence(&cfg.Cadences.SubscriptionPoll, f.Cadences.SubscriptionPoll)
	applyCadence(&cfg.Cadences.HealthCheck, f.Cadences.HealthCheck)
	applyCadence(&cfg.Cadences.RecoveryCheck, f.Cadences.RecoveryCheck)

	if f.Router.PreferSubscription != nil {
		cfg.Router.PreferSubscription = *f.Router.PreferSubscription
	}
	if f.Router.EnableLoadBalancing != nil {
		cfg.Router.EnableLoadBalancing = *f.Router.EnableLoadBalancing
	}
	if len(f.Router.Premium) > 0 {
		cfg.Router.PremiumModels = toModelConfigs(f.Router.Premium)
	}
	if len(f.Router.Standard) > 0 {
		cfg.Router.StandardModels = toModelConfigs(f.Router.Standard)
	}
	if len(f.Router.Budget) > 0 {
		cfg.Router.BudgetModels = toModelConfigs(f.Router.Budget)
	}
	if err := cfg.Router.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	rec := recovery.DefaultConfig(cfg.Workspaces)
	if f.Recovery.Enabled != nil {
		rec.Enabled = *f.Recovery.Enabled
	}
	if f.Recovery.CheckInterval > 0 {
		rec.CheckInterval = f.Recovery.CheckInterval
	}
	if p, err := f.Recovery.DeadWorkerPolicy.toPolicy(rec.DeadWorkerPolicy); err != nil {
		return Config{}, fmt.Errorf("config %s: dead_worker_policy: %w", path, err)
	} else {
		rec.DeadWorkerPolicy = p
	}
	if p, err := f.Recovery.MemoryLeakPolicy.toPolicy(rec.MemoryLeakPolicy); err != nil {
		return Config{}, fmt.Errorf("config %s: memory_leak_policy: %w", path, err)
	} else {
		rec.MemoryLeakPolicy = p
	}
	if p, err := f.Recovery.StuckTaskPolicy.toPolicy(rec.StuckTaskPolicy); err != nil {
		return Config{}, fmt.Errorf("config %s: stuck_task_policy: %w", path, err)
	} else {
		rec.StuckTaskPolicy = p
	}
	if p, err := f.Recovery.StaleAssigneePolicy.toPolicy(rec.StaleAssigneePolicy); err != nil {
		return Config{}, fmt.Errorf("config %s: stale_assignee_policy: %w", path, err)
	} else {
		rec.StaleAssigneePolicy = p
	}
	if f.Recovery.MemoryThresholdMB > 0 {
		rec.MemoryThresholdMB = f.Recovery.MemoryThresholdMB
	}
	if f.Recovery.MemoryKillThresholdMB > 0 {
		rec.MemoryKillThresholdMB = f.Recovery.MemoryKillThresholdMB
	}
	if f.Recovery.StuckTaskTimeout > 0 {
		rec.StuckTaskTimeout = f.Recovery.StuckTaskTimeout
	}
	if f.Recovery.StaleAssigneeTimeout > 0 {
		rec.StaleAssigneeTimeout = f.Recovery.StaleAssigneeTimeout
	}
	rec.MonitoredWorkspaces = cfg.Workspaces
	cfg.Recovery = rec

	return cfg, nil
}

func applyCadence(dst *time.Duration, src time.Duration) {
	if src > 0 {
		*dst = src
	}
}

func toModelConfigs(in []modelYAML) []router.ModelConfig {
	out := make([]router.ModelConfig, len(in))
	for i, m := range in {
		out[i] = m.toModelConfig()
	}
	return out
}

// StuckDetectorConfig builds the stuck-task detector's config from the
// resolved Config, since its timeout is owned by recovery's
// StuckTaskTimeout (one timeout, two consumers: the detector flags it,
// the recovery manager decides whether to act on it).
func (c Config) StuckDetectorConfig() stuck.Config {
	sc := stuck.DefaultConfig(c.Workspaces)
	if c.Recovery.StuckTaskTimeout > 0 {
		sc.StuckTimeout = c.Recovery.StuckTaskTimeout
	}
	return sc
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/helm-guardian/pkg/execution"
	"github.com/Mindburn-Labs/helm-guardian/pkg/quorum"
	"github.com/Mindburn-Labs/helm-guardian/pkg/settlement"
)

// SupportedPolicyVersions is the range of policy file versions this build reads.
const SupportedPolicyVersions = "^1.0.0"

// Policy is the release policy file.
type Policy struct {
	Version       string                   `yaml:"version"`
	Quorum        quorum.Policy            `yaml:"quorum"`
	RosterBuffer  *int                     `yaml:"roster_buffer,omitempty"`
	MinConfidence float64                  `yaml:"min_confidence,omitempty"`
	Monitor       MonitorPolicy            `yaml:"monitor"`
	Confirmation  settlement.BackoffPolicy `yaml:"confirmation"`
	Retention     time.Duration            `yaml:"retention,omitempty"`
	Notify        NotifyPolicy             `yaml:"notify"`
	TemplatesFile string                   `yaml:"templates_file,omitempty"`
}

// MonitorPolicy tunes the guardian response monitor.
type MonitorPolicy struct {
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
	ResponseThreshold float64       `yaml:"response_threshold,omitempty"`
}

// NotifyPolicy bounds notification fan-out.
type NotifyPolicy struct {
	RatePerSecond float64 `yaml:"rate_per_second,omitempty"`
	Burst         int     `yaml:"burst,omitempty"`
}

// LoadPolicyFile reads and validates a policy file.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes and validates policy YAML.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the version gate and value ranges.
func (p *Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("version is required")
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return fmt.Errorf("version %q: %w", p.Version, err)
	}
	c, err := semver.NewConstraint(SupportedPolicyVersions)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s not supported (want %s)", v, SupportedPolicyVersions)
	}

	switch {
	case p.Quorum.MaxSignatures < 0:
		return fmt.Errorf("quorum.max_signatures must not be negative")
	case p.Quorum.LargePayment < 0:
		return fmt.Errorf("quorum.large_payment must not be negative")
	case p.Quorum.MonitorUrgency < 0 || p.Quorum.MonitorUrgency > 100:
		return fmt.Errorf("quorum.monitor_urgency must be within [0,100]")
	case p.RosterBuffer != nil && *p.RosterBuffer < 0:
		return fmt.Errorf("roster_buffer must not be negative")
	case p.MinConfidence < 0 || p.MinConfidence > 1:
		return fmt.Errorf("min_confidence must be within [0,1]")
	case p.Monitor.ResponseThreshold < 0 || p.Monitor.ResponseThreshold > 1:
		return fmt.Errorf("monitor.response_threshold must be within [0,1]")
	case p.Confirmation.MaxAttempts < 0:
		return fmt.Errorf("confirmation.max_attempts must not be negative")
	}
	return nil
}

// EngineConfig converts the policy into engine settings. Unset values keep
// the engine defaults.
func (p *Policy) EngineConfig(timelockUnit time.Duration) execution.Config {
	cfg := execution.Config{
		Policy:         p.Quorum,
		TimelockUnit:   timelockUnit,
		MinConfidence:  p.MinConfidence,
		MonitorTimeout: p.Monitor.Timeout,
		Retention:      p.Retention,
		Confirm:        p.Confirmation,
	}
	d := quorum.DefaultPolicy()
	if cfg.Policy.LargePayment == 0 {
		cfg.Policy.LargePayment = d.LargePayment
	}
	if cfg.Policy.MaxSignatures == 0 {
		cfg.Policy.MaxSignatures = d.MaxSignatures
	}
	if cfg.Policy.MonitorUrgency == 0 {
		cfg.Policy.MonitorUrgency = d.MonitorUrgency
	}
	return cfg
}

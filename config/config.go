// Package config loads the placement engine's YAML configuration and builds
// the components it describes.
//
//	logging:
//	  level: info
//	membership:
//	  backend: etcd            # or "static"
//	  cacheTTL: 2s
//	  etcd:
//	    endpoints: ["127.0.0.1:2379"]
//	    prefix: /mini-placement
//	    dialTimeout: 5s
//	    codec: json
//	  static:
//	    - endpoint: 10.0.0.1:11111
//	      generation: 1
//	      actorTypes: [HelloGrain]
//	policies:
//	  - actorType: HelloGrain
//	    strategy: round-robin
//	    refreshOnCycle: false
//	pipeline:
//	  timeout: 500ms
//	  maxRetries: 2
//	  retryBaseDelay: 10ms
//	  rateLimit: 0             # decisions per second, 0 disables
//	  rateBurst: 0
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"

	"mini-placement/membership"
	"mini-placement/placement"
)

const (
	BackendStatic = "static"
	BackendEtcd   = "etcd"
)

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Membership MembershipConfig `json:"membership"`
	Policies   []PolicyConfig   `json:"policies"`
	Pipeline   PipelineConfig   `json:"pipeline"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type MembershipConfig struct {
	Backend  string       `json:"backend"`
	CacheTTL Duration     `json:"cacheTTL"`
	Etcd     EtcdConfig   `json:"etcd"`
	Static   []NodeConfig `json:"static"`
}

type EtcdConfig struct {
	Endpoints   []string `json:"endpoints"`
	Prefix      string   `json:"prefix"`
	DialTimeout Duration `json:"dialTimeout"`
	Codec       string   `json:"codec"`
}

type NodeConfig struct {
	Endpoint   string   `json:"endpoint"`
	Generation int64    `json:"generation"`
	ActorTypes []string `json:"actorTypes"`
	Version    string   `json:"version"`
}

type PolicyConfig struct {
	ActorType      string `json:"actorType"`
	Strategy       string `json:"strategy"`
	RefreshOnCycle bool   `json:"refreshOnCycle"`
}

type PipelineConfig struct {
	Timeout        Duration `json:"timeout"`
	MaxRetries     int      `json:"maxRetries"`
	RetryBaseDelay Duration `json:"retryBaseDelay"`
	RateLimit      float64  `json:"rateLimit"`
	RateBurst      int      `json:"rateBurst"`
}

// Duration is a time.Duration that reads "500ms" style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, rejecting unknown fields, then defaults and validates.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Membership.Backend == "" {
		c.Membership.Backend = BackendStatic
	}
	if c.Membership.Etcd.Prefix == "" {
		c.Membership.Etcd.Prefix = membership.DefaultPrefix
	}
	if c.Membership.Etcd.DialTimeout.Duration == 0 {
		c.Membership.Etcd.DialTimeout.Duration = 5 * time.Second
	}
	if c.Pipeline.RetryBaseDelay.Duration == 0 {
		c.Pipeline.RetryBaseDelay.Duration = 10 * time.Millisecond
	}
}

// Validate reports every problem found, not only the first.
func (c *Config) Validate() error {
	var err error

	switch c.Membership.Backend {
	case BackendStatic:
		for i, n := range c.Membership.Static {
			if n.Endpoint == "" {
				err = multierr.Append(err, fmt.Errorf("membership.static[%d]: endpoint is required", i))
			}
		}
	case BackendEtcd:
		if len(c.Membership.Etcd.Endpoints) == 0 {
			err = multierr.Append(err, errors.New("membership.etcd.endpoints: at least one endpoint is required"))
		}
		if _, cerr := membership.ParseCodecType(c.Membership.Etcd.Codec); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("membership.etcd.codec: %w", cerr))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("membership.backend: unknown backend %q", c.Membership.Backend))
	}
	if c.Membership.CacheTTL.Duration < 0 {
		err = multierr.Append(err, errors.New("membership.cacheTTL: must not be negative"))
	}

	seen := make(map[string]bool, len(c.Policies))
	for i, p := range c.Policies {
		if p.ActorType == "" {
			err = multierr.Append(err, fmt.Errorf("policies[%d].actorType: required", i))
		} else if seen[p.ActorType] {
			err = multierr.Append(err, fmt.Errorf("policies[%d].actorType: duplicate %q", i, p.ActorType))
		}
		seen[p.ActorType] = true
		if _, serr := placement.ParseStrategy(p.Strategy); serr != nil {
			err = multierr.Append(err, fmt.Errorf("policies[%d].strategy: %w", i, serr))
		}
		if p.RefreshOnCycle && placement.Strategy(p.Strategy) != placement.StrategyRoundRobin {
			err = multierr.Append(err, fmt.Errorf("policies[%d].refreshOnCycle: only valid for %s", i, placement.StrategyRoundRobin))
		}
	}

	if c.Pipeline.Timeout.Duration < 0 {
		err = multierr.Append(err, errors.New("pipeline.timeout: must not be negative"))
	}
	if c.Pipeline.MaxRetries < 0 {
		err = multierr.Append(err, errors.New("pipeline.maxRetries: must not be negative"))
	}
	if c.Pipeline.RateLimit < 0 || c.Pipeline.RateBurst < 0 {
		err = multierr.Append(err, errors.New("pipeline.rateLimit/rateBurst: must not be negative"))
	}
	if c.Pipeline.RateLimit > 0 && c.Pipeline.RateBurst == 0 {
		err = multierr.Append(err, errors.New("pipeline.rateBurst: required when rateLimit is set"))
	}
	return err
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TrackerConfig drives the tracker agent: where to report, which lesson is
// playing, detector tuning, and the scripted presence timeline to replay.
type TrackerConfig struct {
	ServerURL     string         `yaml:"server_url"`
	Token         string         `yaml:"token"`
	CourseID      string         `yaml:"course_id"`
	LessonID      string         `yaml:"lesson_id"`
	FlushInterval time.Duration  `yaml:"flush_interval"`
	Presence      PresenceConfig `yaml:"presence"`
	Camera        CameraConfig   `yaml:"camera"`
	Video         VideoConfig    `yaml:"video"`
	Script        []ScriptStep   `yaml:"script"`
}

type PresenceConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	MinConfidence float64       `yaml:"min_confidence"`
}

type CameraConfig struct {
	DenyPermission bool `yaml:"deny_permission"`
	Unavailable    bool `yaml:"unavailable"`
}

type VideoConfig struct {
	Length time.Duration `yaml:"length"`
}

// ScriptStep holds the face in (or out of) view for a span of wall time.
type ScriptStep struct {
	Face bool          `yaml:"face"`
	For  time.Duration `yaml:"for"`
}

func LoadTracker(path string) (*TrackerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker config: %w", err)
	}

	var cfg TrackerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tracker config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}

	return &cfg, nil
}

func (c *TrackerConfig) applyDefaults() {
	if c.FlushInterval == 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.Presence.PollInterval == 0 {
		c.Presence.PollInterval = 500 * time.Millisecond
	}
	if c.Presence.GracePeriod == 0 {
		c.Presence.GracePeriod = 3 * time.Second
	}
	if c.Presence.MinConfidence == 0 {
		c.Presence.MinConfidence = 0.5
	}
	if c.Video.Length == 0 {
		c.Video.Length = c.ScriptLength()
	}
}

func (c *TrackerConfig) Validate() error {
	var errs []error
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server_url must be an absolute URL, got %q", c.ServerURL))
	}
	if c.CourseID == "" {
		errs = append(errs, errors.New("course_id is required"))
	}
	if c.LessonID == "" {
		errs = append(errs, errors.New("lesson_id is required"))
	}
	if c.FlushInterval < 0 || c.Presence.PollInterval < 0 || c.Presence.GracePeriod < 0 {
		errs = append(errs, errors.New("intervals cannot be negative"))
	}
	if c.Presence.MinConfidence < 0 || c.Presence.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("presence.min_confidence must be within [0, 1], got %v", c.Presence.MinConfidence))
	}
	for i, step := range c.Script {
		if step.For <= 0 {
			errs = append(errs, fmt.Errorf("script[%d].for must be positive", i))
		}
	}
	return errors.Join(errs...)
}

// ScriptLength is the total wall time covered by the script.
func (c *TrackerConfig) ScriptLength() time.Duration {
	var total time.Duration
	for _, step := range c.Script {
		total += step.For
	}
	return total
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file looked up in the current and
// home directories.
const DefaultConfigFile = ".crawlkeeper"

// xdgConfigFile is the file name inside XDGConfigDir.
const xdgConfigFile = "config.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// JobSettings is one job as written in the configuration file. Unset
// fields fall back to the defaults block, then to NewJob's values.
type JobSettings struct {
	Roots       []string `yaml:"roots,omitempty"`
	Backend     string   `yaml:"backend,omitempty"`
	StateDir    string   `yaml:"stateDir,omitempty"`
	Order       string   `yaml:"order,omitempty"`
	ErrorPolicy string   `yaml:"errorPolicy,omitempty"`

	// CrawlDelay is a pointer so "0s" can turn the delay off.
	CrawlDelay *time.Duration `yaml:"crawlDelay,omitempty"`

	MaxFailuresPerURL int           `yaml:"maxFailuresPerUrl,omitempty"`
	UserAgent         string        `yaml:"userAgent,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	MaxBodySize       int64         `yaml:"maxBodySize,omitempty"`

	// Cookie is a raw cookie string: "name=value" or "a=1; b=2".
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are merged key by key over the defaults.
	Headers map[string]string `yaml:"headers,omitempty"`

	SOCKSProxy string `yaml:"socksProxy,omitempty"`
	SameHost   *bool  `yaml:"sameHost,omitempty"`

	Selectors      []string `yaml:"selectors,omitempty"`
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
	Routes         []Route  `yaml:"routes,omitempty"`

	OutputDir    string `yaml:"outputDir,omitempty"`
	OutputFormat string `yaml:"outputFormat,omitempty"`
}

// ApplyTo overrides the fields of j that s sets.
func (s JobSettings) ApplyTo(j *Job) {
	if len(s.Roots) > 0 {
		j.Roots = s.Roots
	}
	if s.Backend != "" {
		j.Backend = s.Backend
	}
	if s.StateDir != "" {
		j.StateDir = s.StateDir
	}
	if s.Order != "" {
		j.Order = s.Order
	}
	if s.ErrorPolicy != "" {
		j.ErrorPolicy = s.ErrorPolicy
	}
	if s.CrawlDelay != nil {
		j.CrawlDelay = *s.CrawlDelay
	}
	if s.MaxFailuresPerURL != 0 {
		j.MaxFailures = s.MaxFailuresPerURL
	}
	if s.UserAgent != "" {
		j.UserAgent = s.UserAgent
	}
	if s.Timeout != 0 {
		j.Timeout = s.Timeout
	}
	if s.MaxBodySize != 0 {
		j.MaxBodySize = s.MaxBodySize
	}
	if s.Cookie != "" {
		j.Cookie = s.Cookie
	}
	if len(s.Headers) > 0 {
		merged := make(map[string]string, len(j.Headers)+len(s.Headers))
		for k, v := range j.Headers {
			merged[k] = v
		}
		for k, v := range s.Headers {
			merged[k] = v
		}
		j.Headers = merged
	}
	if s.SOCKSProxy != "" {
		j.SOCKSProxy = s.SOCKSProxy
	}
	if s.SameHost != nil {
		j.SameHost = *s.SameHost
	}
	if len(s.Selectors) > 0 {
		j.Selectors = s.Selectors
	}
	if len(s.IgnorePatterns) > 0 {
		j.IgnorePatterns = s.IgnorePatterns
	}
	if len(s.FollowPatterns) > 0 {
		j.FollowPatterns = s.FollowPatterns
	}
	if len(s.Routes) > 0 {
		j.Routes = s.Routes
	}
	if s.OutputDir != "" {
		j.OutputDir = s.OutputDir
	}
	if s.OutputFormat != "" {
		j.OutputFormat = s.OutputFormat
	}
}

// File is the structure of the configuration file.
//
//	defaults:
//	  crawlDelay: 5s
//	jobs:
//	  pedigree:
//	    roots: [https://www.europotato.org/varieties]
//	    selectors: ["#content ul.index a"]
type File struct {
	// Defaults apply to every job, including the ad-hoc CLI job.
	Defaults JobSettings `yaml:"defaults,omitempty"`

	// Jobs maps job names to their settings.
	Jobs map[string]JobSettings `yaml:"jobs,omitempty"`
}

// LoadConfigFile reads and parses the configuration file at path.
// A missing file is reported as ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cf.Jobs == nil {
		cf.Jobs = make(map[string]JobSettings)
	}
	return &cf, nil
}

// JobNames returns the names of all jobs in the file, sorted.
func (cf *File) JobNames() []string {
	names := make([]string, 0, len(cf.Jobs))
	for name := range cf.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Job builds the named job: NewJob's defaults, then the file's defaults
// block, then the job's own settings.
func (cf *File) Job(name string) (*Job, error) {
	settings, ok := cf.Jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	job := NewJob(name)
	cf.Defaults.ApplyTo(job)
	settings.ApplyTo(job)
	return job, nil
}

// FindConfigFile searches for the configuration file in the following order:
//  1. configPath, if given (returned only if it exists)
//  2. .crawlkeeper in the current directory
//  3. config.yaml in the XDG config directory
//  4. .crawlkeeper in the user's home directory
//
// It returns "" when nothing is found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), xdgConfigFile))
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

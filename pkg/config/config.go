// Package config loads the job settings and exposes build information.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rigcount/pkg/common"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName names the XDG directory holding the settings.
const AppName = "rigcount"

// DefaultFileName is the settings file looked up under the XDG config home.
const DefaultFileName = "appsettings.json"

// Environment variables overriding the top-level settings.
const (
	EnvSourceFileLocation = "RIGCOUNT_SOURCE_FILE_LOCATION"
	EnvOutputFileFormat   = "RIGCOUNT_OUTPUT_FILE_FORMAT"
	EnvOutputFileLocation = "RIGCOUNT_OUTPUT_FILE_LOCATION"
	EnvConcurrency        = "RIGCOUNT_CONCURRENCY"
)

// DefaultJobName names the job built from the top-level settings.
const DefaultJobName = "default"

// Job describes one fetch-and-write pipeline.
type Job struct {
	Name        string `json:"Name" yaml:"Name" toml:"Name"`
	Source      string `json:"Source" yaml:"Source" toml:"Source"`
	Format      string `json:"Format" yaml:"Format" toml:"Format"`
	Destination string `json:"Destination" yaml:"Destination" toml:"Destination"`
	// MediaType overrides the Content-Type reported by the server.
	MediaType string `json:"MediaType,omitempty" yaml:"MediaType,omitempty" toml:"MediaType,omitempty"`
	// Query is a jq program applied to JSON payloads.
	Query string `json:"Query,omitempty" yaml:"Query,omitempty" toml:"Query,omitempty"`
	// Member selects the entry of an archived payload.
	Member string `json:"Member,omitempty" yaml:"Member,omitempty" toml:"Member,omitempty"`
	// Transform is the path of a Starlark script applied to every record.
	Transform string `json:"Transform,omitempty" yaml:"Transform,omitempty" toml:"Transform,omitempty"`
}

// Settings is the content of a settings file.
// Mutable
type Settings struct {
	SourceFileLocation string `json:"SourceFileLocation" yaml:"SourceFileLocation" toml:"SourceFileLocation"`
	OutputFileFormat   string `json:"OutputFileFormat" yaml:"OutputFileFormat" toml:"OutputFileFormat"`
	OutputFileLocation string `json:"OutputFileLocation" yaml:"OutputFileLocation" toml:"OutputFileLocation"`

	// Concurrency bounds the jobs run at once. Zero picks a default.
	Concurrency int   `json:"Concurrency,omitempty" yaml:"Concurrency,omitempty" toml:"Concurrency,omitempty"`
	Jobs        []Job `json:"Jobs,omitempty" yaml:"Jobs,omitempty" toml:"Jobs,omitempty"`
}

// DefaultSettingsPath returns $XDG_CONFIG_HOME/rigcount/appsettings.json.
func DefaultSettingsPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, DefaultFileName)
}

// Load reads a settings file. The extension selects the codec: .json, .yaml,
// .yml or .toml. Unknown keys are rejected.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewConfigError("", "cannot read settings file: %v", err)
	}

	s := &Settings{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = decodeJSON(data, s)
	case ".yaml", ".yml":
		err = decodeYAML(data, s)
	case ".toml":
		err = decodeTOML(data, s)
	default:
		return nil, common.NewConfigError("", "unsupported settings file extension %q in %s", ext, path)
	}
	if err != nil {
		return nil, common.NewConfigError("", "invalid settings file %s: %v", path, err)
	}
	return s, nil
}

func decodeJSON(data []byte, s *Settings) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s)
}

func decodeYAML(data []byte, s *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(s)
}

func decodeTOML(data []byte, s *Settings) error {
	md, err := toml.Decode(string(data), s)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadEnvFile seeds the process environment from a dotenv file. Variables
// already set are left alone.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return common.NewConfigError("", "cannot load env file %s: %v", path, err)
	}
	return nil
}

// ApplyEnv overrides the top-level settings with the non-empty variables
// returned by getenv.
func (s *Settings) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvSourceFileLocation); v != "" {
		s.SourceFileLocation = v
	}
	if v := getenv(EnvOutputFileFormat); v != "" {
		s.OutputFileFormat = v
	}
	if v := getenv(EnvOutputFileLocation); v != "" {
		s.OutputFileLocation = v
	}
	if v := getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return common.NewConfigError("Concurrency", "invalid %s %q", EnvConcurrency, v)
		}
		s.Concurrency = n
	}
	return nil
}

// AllJobs returns the jobs to run. The top-level source and output settings
// form a job named "default" when either location is set; it comes first.
// Jobs without a format inherit OutputFileFormat and unnamed jobs are named
// job-N by position.
func (s *Settings) AllJobs() ([]Job, error) {
	if s.Concurrency < 0 {
		return nil, common.NewConfigError("Concurrency", "must not be negative, got %d", s.Concurrency)
	}

	var jobs []Job
	if s.SourceFileLocation != "" || s.OutputFileLocation != "" {
		jobs = append(jobs, Job{
			Name:        DefaultJobName,
			Source:      s.SourceFileLocation,
			Format:      s.OutputFileFormat,
			Destination: s.OutputFileLocation,
		})
	}

	for i, j := range s.Jobs {
		if j.Name == "" {
			j.Name = fmt.Sprintf("job-%d", i+1)
		}
		if j.Format == "" {
			j.Format = s.OutputFileFormat
		}
		jobs = append(jobs, j)
	}

	if len(jobs) == 0 {
		return nil, common.NewConfigError("SourceFileLocation", "no jobs configured")
	}
	return jobs, nil
}

package pipeline

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/RyanBlaney/sonido-scribe/config"
	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"gopkg.in/yaml.v3"
)

// Environment is the reproducibility snapshot written as env.yaml
type Environment struct {
	RunID     string    `yaml:"run_id"`
	CreatedAt time.Time `yaml:"created_at"`
	Seed      int64     `yaml:"seed"`
	Input     string    `yaml:"input"`
	GoVersion string    `yaml:"go_version"`
	OS        string    `yaml:"os"`
	Arch      string    `yaml:"arch"`
	Renderer  string    `yaml:"renderer"`
	// Parameters is the effective configuration
	Parameters *config.Config `yaml:"parameters"`
}

// NewEnvironment snapshots the current process for a run
func NewEnvironment(runID, input string, cfg *config.Config, renderer string) *Environment {
	return &Environment{
		RunID:      runID,
		CreatedAt:  time.Now().UTC(),
		Seed:       cfg.Seed,
		Input:      input,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Renderer:   renderer,
		Parameters: cfg,
	}
}

// WriteEnvironment writes env as YAML through a temp file and rename
func WriteEnvironment(path string, env *Environment) error {
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode environment: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write environment: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadEnvironment loads an env.yaml
func ReadEnvironment(path string) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &diagnostics.ResourceNotFoundError{Kind: "environment", Path: path}
		}
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	env := &Environment{}
	if err := yaml.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return env, nil
}

package clustertest

import (
	"time"

	"overlay/internal/config"
	"overlay/internal/configloader"
)

// RunConfig controls an exercise run against an already-running cluster.
type RunConfig struct {
	Duration time.Duration `yaml:"duration"`
}

// DockerConfig names the Docker-based discovery parameters.
type DockerConfig struct {
	ContainerSuffix string `yaml:"containerSuffix"`
	Network         string `yaml:"network"`
	Port            int    `yaml:"port"`
}

// DiscoveryConfig selects how the exerciser finds peers to drive.
type DiscoveryConfig struct {
	Mode   string       `yaml:"mode"` // docker | static
	Docker DockerConfig `yaml:"docker"`
	Static []string     `yaml:"static"`
}

// CSVConfig controls optional result logging to disk.
type CSVConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ParallelismConfig bounds concurrent workers per wave.
type ParallelismConfig struct {
	MinWorkers int `yaml:"min"`
	MaxWorkers int `yaml:"max"`
}

// OperationsConfig controls the pace and shape of each exercise wave.
type OperationsConfig struct {
	Rate        float64           `yaml:"rate"` // waves per second
	Timeout     time.Duration     `yaml:"timeout"`
	Parallelism ParallelismConfig `yaml:"parallelism"`
}

// Config is the root configuration for cmd/tester.
type Config struct {
	Logger     config.LoggerConfig `yaml:"logger"`
	Run        RunConfig           `yaml:"run"`
	Discovery  DiscoveryConfig     `yaml:"discovery"`
	CSV        CSVConfig           `yaml:"csv"`
	Operations OperationsConfig    `yaml:"operations"`
}

// LoadConfig reads path and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := configloader.LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	configloader.OverrideBool(&cfg.Logger.Active, "CLUSTERTEST_LOGGER_ACTIVE")
	configloader.OverrideString(&cfg.Logger.Level, "CLUSTERTEST_LOGGER_LEVEL")
	configloader.OverrideString(&cfg.Logger.Encoding, "CLUSTERTEST_LOGGER_ENCODING")
	configloader.OverrideString(&cfg.Logger.Mode, "CLUSTERTEST_LOGGER_MODE")
	configloader.OverrideDuration(&cfg.Run.Duration, "CLUSTERTEST_DURATION")
	configloader.OverrideString(&cfg.Discovery.Mode, "CLUSTERTEST_DISCOVERY_MODE")
	configloader.OverrideString(&cfg.Discovery.Docker.ContainerSuffix, "CLUSTERTEST_DOCKER_SUFFIX")
	configloader.OverrideString(&cfg.Discovery.Docker.Network, "CLUSTERTEST_DOCKER_NETWORK")
	configloader.OverrideInt(&cfg.Discovery.Docker.Port, "CLUSTERTEST_DOCKER_PORT")
	configloader.OverrideStringSlice(&cfg.Discovery.Static, "CLUSTERTEST_STATIC_PEERS")
	configloader.OverrideBool(&cfg.CSV.Enabled, "CLUSTERTEST_CSV_ENABLED")
	configloader.OverrideString(&cfg.CSV.Path, "CLUSTERTEST_CSV_PATH")
	configloader.OverrideFloat(&cfg.Operations.Rate, "CLUSTERTEST_RATE")
	configloader.OverrideDuration(&cfg.Operations.Timeout, "CLUSTERTEST_TIMEOUT")
	configloader.OverrideInt(&cfg.Operations.Parallelism.MinWorkers, "CLUSTERTEST_WORKERS_MIN")
	configloader.OverrideInt(&cfg.Operations.Parallelism.MaxWorkers, "CLUSTERTEST_WORKERS_MAX")
}

// Validate applies minimal sanity checks before a run starts.
func (c *Config) Validate() error {
	if c.Run.Duration <= 0 {
		c.Run.Duration = 30 * time.Second
	}
	if c.Operations.Rate <= 0 {
		c.Operations.Rate = 1
	}
	if c.Operations.Timeout <= 0 {
		c.Operations.Timeout = 5 * time.Second
	}
	if c.Operations.Parallelism.MaxWorkers <= 0 {
		c.Operations.Parallelism.MaxWorkers = 1
	}
	if c.Operations.Parallelism.MinWorkers <= 0 {
		c.Operations.Parallelism.MinWorkers = 1
	}
	return nil
}

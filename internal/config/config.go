package config

import (
	"os"
	"strconv"
	"strings"

	"gpbench/internal/errors"
)

// Config represents the complete benchmark configuration
type Config struct {
	Paths       PathConfig `validate:"required"`
	Sweep       SweepConfig
	Calibration CalibrationConfig
	Aggregation AggregationConfig
}

// PathConfig holds file system paths
type PathConfig struct {
	Root      string `validate:"required"`
	ExcelFile string
}

// SweepConfig holds the benchmark sweep axes
type SweepConfig struct {
	Folds           int // signed: negative reserves a held-out test fold
	InputDims       []int
	SampleSizes     []int
	NoiseMagnitudes []float64
	Rotations       int
	Seed            int64
}

// CalibrationConfig holds model-fitting settings
type CalibrationConfig struct {
	Parallel      int
	MaxIterations int
}

// AggregationConfig holds result-collection settings
type AggregationConfig struct {
	IgnoreMissing bool
	GSASamples    int
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	pathConfig, err := loadPathConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load path configuration")
	}
	config.Paths = *pathConfig

	sweepConfig, err := loadSweepConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sweep configuration")
	}
	config.Sweep = *sweepConfig

	config.Calibration = *loadCalibrationConfig()
	config.Aggregation = *loadAggregationConfig()

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadPathConfig() (*PathConfig, error) {
	root := os.Getenv("GPBENCH_ROOT")
	if root == "" {
		return nil, errors.ConfigInvalid("GPBENCH_ROOT is required")
	}

	return &PathConfig{
		Root:      root,
		ExcelFile: getEnvOrDefault("GPBENCH_EXCEL_FILE", ""),
	}, nil
}

func loadSweepConfig() (*SweepConfig, error) {
	folds := getEnvIntOrDefault("GPBENCH_FOLDS", -2)
	if folds == 0 {
		return nil, errors.ConfigInvalid("GPBENCH_FOLDS must be non-zero")
	}

	inputDims, err := getEnvIntListOrDefault("GPBENCH_INPUT_DIMS", []int{5})
	if err != nil {
		return nil, err
	}
	sampleSizes, err := getEnvIntListOrDefault("GPBENCH_SAMPLE_SIZES", []int{200})
	if err != nil {
		return nil, err
	}
	noiseMagnitudes, err := getEnvFloatListOrDefault("GPBENCH_NOISE_MAGNITUDES", []float64{0.1})
	if err != nil {
		return nil, err
	}

	return &SweepConfig{
		Folds:           folds,
		InputDims:       inputDims,
		SampleSizes:     sampleSizes,
		NoiseMagnitudes: noiseMagnitudes,
		Rotations:       getEnvIntOrDefault("GPBENCH_ROTATIONS", 0),
		Seed:            int64(getEnvIntOrDefault("GPBENCH_SEED", 1)),
	}, nil
}

func loadCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{
		Parallel:      getEnvIntOrDefault("GPBENCH_PARALLEL", 1),
		MaxIterations: getEnvIntOrDefault("GPBENCH_MAX_ITERATIONS", 40),
	}
}

func loadAggregationConfig() *AggregationConfig {
	return &AggregationConfig{
		IgnoreMissing: getEnvBoolOrDefault("GPBENCH_IGNORE_MISSING", true),
		GSASamples:    getEnvIntOrDefault("GPBENCH_GSA_SAMPLES", 2048),
	}
}

func validateConfig(config *Config) error {
	if config.Paths.Root == "" {
		return errors.ConfigInvalid("benchmark root folder is required")
	}
	if config.Calibration.Parallel < 1 {
		return errors.ConfigInvalid("calibration parallelism must be at least 1")
	}
	for _, n := range config.Sweep.SampleSizes {
		if n < 2 {
			return errors.ConfigInvalid("every sample size must be at least 2")
		}
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvIntListOrDefault(key string, defaultValue []int) ([]int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parts := strings.Split(value, ",")
	list := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.ConfigInvalid(key + " must be a comma-separated list of integers")
		}
		list = append(list, n)
	}
	return list, nil
}

func getEnvFloatListOrDefault(key string, defaultValue []float64) ([]float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parts := strings.Split(value, ",")
	list := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, errors.ConfigInvalid(key + " must be a comma-separated list of numbers")
		}
		list = append(list, f)
	}
	return list, nil
}

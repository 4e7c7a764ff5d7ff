package app

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/podsight/backend/internal/pipeline"
	"github.com/podsight/backend/internal/pkg/envutil"
	"github.com/podsight/backend/internal/pkg/logger"
)

type Config struct {
	HTTPAddr    string
	CORSOrigins []string
	RunWorker   bool

	MemoryThreshold float64

	Pipeline pipeline.Config
}

// fileOverlay is the optional YAML config file (PODSIGHT_CONFIG). Only the
// tuning knobs an operator actually adjusts live here; everything else is
// env-first with defaults.
type fileOverlay struct {
	SimThreshold        *float64 `yaml:"sim_threshold"`
	KeepPercentile      *float64 `yaml:"keep_percentile"`
	BorderlineBand      *float64 `yaml:"borderline_band"`
	RelationMinStrength *float64 `yaml:"relation_min_strength"`
	MemoryThreshold     *float64 `yaml:"memory_threshold"`
	MinerModel          *string  `yaml:"miner_model"`
	JudgeModel          *string  `yaml:"judge_model"`
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		HTTPAddr:        envutil.String("HTTP_ADDR", ":8080"),
		CORSOrigins:     []string{envutil.String("CORS_ORIGIN", "*")},
		RunWorker:       envutil.Bool("RUN_WORKER", true),
		MemoryThreshold: envutil.Float("PODSIGHT_MEMORY_THRESHOLD", 0.85),
		Pipeline:        pipeline.DefaultConfig(),
	}

	path := envutil.String("PODSIGHT_CONFIG", "")
	if path == "" {
		return cfg
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("config file unreadable, using env/defaults", "path", path, "error", err)
		return cfg
	}
	var ov fileOverlay
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		log.Warn("config file unparseable, using env/defaults", "path", path, "error", err)
		return cfg
	}
	if ov.SimThreshold != nil {
		cfg.Pipeline.SimThreshold = *ov.SimThreshold
	}
	if ov.KeepPercentile != nil {
		cfg.Pipeline.KeepPercentile = *ov.KeepPercentile
	}
	if ov.BorderlineBand != nil {
		cfg.Pipeline.BorderlineBand = *ov.BorderlineBand
	}
	if ov.RelationMinStrength != nil {
		cfg.Pipeline.RelationMinStrength = *ov.RelationMinStrength
	}
	if ov.MemoryThreshold != nil {
		cfg.MemoryThreshold = *ov.MemoryThreshold
	}
	if ov.MinerModel != nil {
		cfg.Pipeline.MinerModel = *ov.MinerModel
	}
	if ov.JudgeModel != nil {
		cfg.Pipeline.JudgeModel = *ov.JudgeModel
	}
	log.Info("config overlay applied", "path", path)
	return cfg
}

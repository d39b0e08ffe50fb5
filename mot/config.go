package mot

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Config holds constructor-time tracker parameters. It is fixed for the session.
type Config struct {
	// Max value of 1-IoU for IoU matching stage (unitless)
	MaxIOUDistance float64 `json:"max_iou_distance"`
	// Max number of consecutive misses (frames) before confirmed track is deleted
	MaxAge int `json:"max_age"`
	// Number of consecutive hits needed to confirm track
	NInit int `json:"n_init"`
	// Appearance distance gate (metric units: 1-cos or squared euclidean)
	MatchingThreshold float64 `json:"matching_threshold"`
	// Appearance metric kind: "cosine" or "euclidean"
	Metric string `json:"metric"`
	// Max features kept per identity in appearance gallery. Zero or negative is unbounded
	Budget int `json:"budget"`
	// Frames after which covered track can't give its identity back
	CoverHorizon int `json:"cover_horizon"`
	// Share of missed track's area hidden by another track to consider it covered (unitless, 0..1)
	CoverOverlapThreshold float64 `json:"cover_overlap_threshold"`
	// Identity reuse window for covered tracks: ReuseMinDistance < D <= ReuseMaxDistance,
	// where D is distance between centers (pixels)
	ReuseMinDistance float64 `json:"reuse_min_distance"`
	ReuseMaxDistance float64 `json:"reuse_max_distance"`
	// Gate appearance matches by center position only (2 dof) instead of full box (4 dof)
	GateOnlyPosition bool `json:"gate_only_position"`
	// Assignment solver: "jv" or "hungarian"
	Algorithm string `json:"algorithm"`
}

// DefaultConfig returns parameters of the reference deployment
func DefaultConfig() Config {
	return Config{
		MaxIOUDistance:        0.9,
		MaxAge:                40,
		NInit:                 11,
		MatchingThreshold:     0.3,
		Metric:                "cosine",
		Budget:                100,
		CoverHorizon:          140,
		CoverOverlapThreshold: 0.75,
		ReuseMinDistance:      1.0,
		ReuseMaxDistance:      60.0,
		GateOnlyPosition:      false,
		Algorithm:             "jv",
	}
}

// Validate checks ranges of every parameter
func (cfg Config) Validate() error {
	if math.IsNaN(cfg.MaxIOUDistance) || cfg.MaxIOUDistance < 0 || cfg.MaxIOUDistance > 1 {
		return errors.Wrapf(ErrInvalidConfig, "max_iou_distance should be in [0, 1], got %f", cfg.MaxIOUDistance)
	}
	if cfg.MaxAge < 1 {
		return errors.Wrapf(ErrInvalidConfig, "max_age should be positive, got %d", cfg.MaxAge)
	}
	if cfg.NInit < 1 {
		return errors.Wrapf(ErrInvalidConfig, "n_init should be positive, got %d", cfg.NInit)
	}
	if math.IsNaN(cfg.MatchingThreshold) || cfg.MatchingThreshold < 0 {
		return errors.Wrapf(ErrInvalidConfig, "matching_threshold should be non-negative, got %f", cfg.MatchingThreshold)
	}
	if _, err := ParseDistanceKind(cfg.Metric); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "metric: %v", err)
	}
	if cfg.CoverHorizon < 0 {
		return errors.Wrapf(ErrInvalidConfig, "cover_horizon should be non-negative, got %d", cfg.CoverHorizon)
	}
	if math.IsNaN(cfg.CoverOverlapThreshold) || cfg.CoverOverlapThreshold <= 0 || cfg.CoverOverlapThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "cover_overlap_threshold should be in (0, 1], got %f", cfg.CoverOverlapThreshold)
	}
	if math.IsNaN(cfg.ReuseMinDistance) || math.IsNaN(cfg.ReuseMaxDistance) || cfg.ReuseMinDistance < 0 || cfg.ReuseMaxDistance < cfg.ReuseMinDistance {
		return errors.Wrapf(ErrInvalidConfig, "reuse window should satisfy 0 <= min <= max, got (%f, %f]", cfg.ReuseMinDistance, cfg.ReuseMaxDistance)
	}
	if _, err := ParseMatchingAlgorithm(cfg.Algorithm); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "algorithm: %v", err)
	}
	return nil
}

// NewMetric creates appearance metric described by config
func (cfg Config) NewMetric() (*NearestNeighborDistanceMetric, error) {
	kind, err := ParseDistanceKind(cfg.Metric)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create metric")
	}
	return NewNearestNeighborDistanceMetric(kind, cfg.MatchingThreshold, cfg.Budget)
}

// LoadConfig reads JSON config file. Omitted fields keep defaults from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, errors.Errorf("config file must have .json extension, got '%s'", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "Can't stat config file")
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return cfg, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "Can't read config file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "Can't parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

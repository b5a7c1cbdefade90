package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for scoring documents that cannot be decoded
// or that violate the weight and target bounds.
var ErrInvalidConfig = errors.New("invalid scoring configuration")

// Weights are the relative contributions of each metric to the overall score.
type Weights struct {
	Functionality float64 `json:"functionality" validate:"gte=0"`
	Area          float64 `json:"area" validate:"gte=0"`
	Performance   float64 `json:"performance" validate:"gte=0"`
	Power         float64 `json:"power" validate:"gte=0"`
}

// Targets are the thresholds and reference values the metrics are compared to.
// A zero target disables the corresponding component.
type Targets struct {
	FuncThreshold    float64 `json:"func_threshold" validate:"gte=0,lte=1"`
	OverallThreshold float64 `json:"overall_threshold" validate:"gte=0,lte=100"`
	AreaTarget       float64 `json:"area_target" validate:"gte=0"`
	PerfTarget       float64 `json:"perf_target" validate:"gte=0"`
	PowerTarget      float64 `json:"power_target" validate:"gte=0"`
	RatioCap         float64 `json:"ratio_cap" validate:"gt=0"`
}

type Config struct {
	Weights Weights `json:"weights"`
	Targets Targets `json:"targets"`
}

// Default weights score on functionality alone, which also means the
// synthesis backend is skipped unless a document asks for area or performance.
var (
	DefaultWeights = Weights{Functionality: 1.0}
	DefaultTargets = Targets{FuncThreshold: 0.90, OverallThreshold: 0.0, RatioCap: 2.0}
)

func DefaultConfig() Config {
	return Config{Weights: DefaultWeights, Targets: DefaultTargets}
}

// NeedsSynthesis reports whether area or performance carry any weight.
func (c Config) NeedsSynthesis() bool {
	return c.Weights.Area > 0 || c.Weights.Performance > 0
}

// Document is a scoring configuration as written by an operator. Absent
// fields leave the underlying value untouched when applied.
type Document struct {
	Weights *struct {
		Functionality *float64 `yaml:"functionality"`
		Area          *float64 `yaml:"area"`
		Performance   *float64 `yaml:"performance"`
		Power         *float64 `yaml:"power"`
	} `yaml:"weights"`
	Targets *struct {
		FuncThreshold    *float64 `yaml:"func_threshold"`
		OverallThreshold *float64 `yaml:"overall_threshold"`
		AreaTarget       *float64 `yaml:"area_target"`
		PerfTarget       *float64 `yaml:"perf_target"`
		PowerTarget      *float64 `yaml:"power_target"`
		RatioCap         *float64 `yaml:"ratio_cap"`
	} `yaml:"targets"`
}

// ParseDocument decodes a JSON or YAML scoring document. Unknown metric or
// target names are rejected so a typo cannot silently fall back to defaults.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &doc, nil
}

// Apply overlays the fields present in doc onto c. A nil doc is a no-op.
func (c Config) Apply(doc *Document) Config {
	if doc == nil {
		return c
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	if w := doc.Weights; w != nil {
		set(&c.Weights.Functionality, w.Functionality)
		set(&c.Weights.Area, w.Area)
		set(&c.Weights.Performance, w.Performance)
		set(&c.Weights.Power, w.Power)
	}
	if t := doc.Targets; t != nil {
		set(&c.Targets.FuncThreshold, t.FuncThreshold)
		set(&c.Targets.OverallThreshold, t.OverallThreshold)
		set(&c.Targets.AreaTarget, t.AreaTarget)
		set(&c.Targets.PerfTarget, t.PerfTarget)
		set(&c.Targets.PowerTarget, t.PowerTarget)
		set(&c.Targets.RatioCap, t.RatioCap)
	}
	return c
}

var validate = validator.New()

// Validate checks the bounds declared on Weights and Targets.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Resolve layers the given documents over the defaults, later documents
// winning, and validates the result.
func Resolve(docs ...*Document) (Config, error) {
	cfg := DefaultConfig()
	for _, d := range docs {
		cfg = cfg.Apply(d)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

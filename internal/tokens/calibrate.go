// Package tokens corrects raw host-side token estimates to approximate each
// external provider's real accounting. The host capability can only count
// with its own tokenizer; observed divergence is close to linear within a
// raw-count range, so calibration applies round(slope*raw + baseOffset) with
// coefficients selected by direction and raw-count bucket.
package tokens

import (
	"math"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

// Direction selects input (prompt) or output (completion) coefficients.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Bucket thresholds approximate the provider-side 10K/50K/100K accounting
// tiers, shifted down so borderline requests land in the tier the provider
// will actually bill them in.
const (
	bucketSmallMax  = 9_000
	bucketMediumMax = 45_000
	bucketLargeMax  = 90_000
)

// Bucket names raw-count ranges for coefficient selection and config
// overrides.
type Bucket string

const (
	BucketSmall  Bucket = "small"  // raw < 9K
	BucketMedium Bucket = "medium" // 9K <= raw < 45K
	BucketLarge  Bucket = "large"  // 45K <= raw < 90K
	BucketXLarge Bucket = "xlarge" // raw >= 90K
)

// Coefficients is one linear correction.
type Coefficients struct {
	Slope      float64 `json:"slope" yaml:"slope"`
	BaseOffset float64 `json:"base_offset" yaml:"base_offset"`
}

// Config optionally overrides the built-in coefficients. Zero value keeps
// the defaults. Output coefficients are uniform across buckets; there is not
// enough observed data to differentiate them.
type Config struct {
	Input  map[Bucket]Coefficients `json:"input,omitempty" yaml:"input,omitempty"`
	Output *Coefficients           `json:"output,omitempty" yaml:"output,omitempty"`
}

var defaultInput = map[Bucket]Coefficients{
	BucketSmall:  {Slope: 1.15, BaseOffset: 80},
	BucketMedium: {Slope: 1.10, BaseOffset: 450},
	BucketLarge:  {Slope: 1.08, BaseOffset: 975},
	BucketXLarge: {Slope: 1.05, BaseOffset: 2100},
}

var defaultOutput = Coefficients{Slope: 1.02, BaseOffset: 3}

// Calibrator applies direction- and bucket-selected linear corrections.
// It is immutable after construction and safe for concurrent use.
type Calibrator struct {
	input  map[Bucket]Coefficients
	output Coefficients
}

// New builds a calibrator from cfg, filling unset coefficients from the
// defaults.
func New(cfg Config) *Calibrator {
	c := &Calibrator{
		input:  make(map[Bucket]Coefficients, len(defaultInput)),
		output: defaultOutput,
	}

	for bucket, coeffs := range defaultInput {
		c.input[bucket] = coeffs
	}

	for bucket, coeffs := range cfg.Input {
		if _, known := defaultInput[bucket]; known {
			c.input[bucket] = coeffs
		}
	}

	if cfg.Output != nil {
		c.output = *cfg.Output
	}

	return c
}

// BucketFor returns the raw-count bucket a count falls into.
func BucketFor(raw int) Bucket {
	switch {
	case raw < bucketSmallMax:
		return BucketSmall
	case raw < bucketMediumMax:
		return BucketMedium
	case raw < bucketLargeMax:
		return BucketLarge
	default:
		return BucketXLarge
	}
}

// Calibrate corrects one raw estimate. The result is never negative.
func (c *Calibrator) Calibrate(dir Direction, raw int) int {
	coeffs := c.output
	if dir == Input {
		coeffs = c.input[BucketFor(raw)]
	}

	calibrated := int(math.Round(coeffs.Slope*float64(raw) + coeffs.BaseOffset))
	if calibrated < 0 {
		return 0
	}

	return calibrated
}

// Usage builds a Usage carrying both raw and calibrated counts.
func (c *Calibrator) Usage(rawInput, rawOutput int) unified.Usage {
	return unified.Usage{
		InputTokensRaw:  rawInput,
		InputTokens:     c.Calibrate(Input, rawInput),
		OutputTokensRaw: rawOutput,
		OutputTokens:    c.Calibrate(Output, rawOutput),
	}
}

package domain

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// SampleSize is the edge length, in pixels, images are resampled to before
// their statistics are taken.
const SampleSize = 224

// ClassificationResult is the outcome of classifying one photo.
type ClassificationResult struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ChannelStats summarises the colour distribution of a resampled image.
type ChannelStats struct {
	RedMean   float64 `json:"red_mean"`
	GreenMean float64 `json:"green_mean"`
	BlueMean  float64 `json:"blue_mean"`
	// Variability is the mean of the three per-channel standard deviations.
	Variability float64 `json:"variability"`
}

// Rule is one step of the ordered decision list. The first rule whose Match
// returns true decides the label; Confidence is clamped and rounded afterwards.
type Rule struct {
	Label      Label
	Rationale  string
	Match      func(s ChannelStats) bool
	Confidence func(s ChannelStats) float64
}

// DefaultRules returns the colour heuristic in evaluation order. The last rule
// always matches.
func DefaultRules() []Rule {
	return []Rule{
		{
			Label:     LabelNecrosisBlight,
			Rationale: "Reddish/brown lesions detected by color heuristic.",
			Match: func(s ChannelStats) bool {
				return s.RedMean > s.GreenMean+15 && s.RedMean > s.BlueMean
			},
			Confidence: func(s ChannelStats) float64 {
				return math.Min(0.89, 0.6+(s.RedMean-s.GreenMean)/100)
			},
		},
		{
			Label:     LabelSevereSpotting,
			Rationale: "High variance and low green suggests spots or lesions.",
			Match: func(s ChannelStats) bool {
				return s.Variability > 60 && s.GreenMean < 100
			},
			Confidence: func(s ChannelStats) float64 {
				return math.Min(0.92, 0.55+(s.Variability-40)/200)
			},
		},
		{
			Label:     LabelHealthyOrDeficiency,
			Rationale: "Leaf is relatively green — may be healthy or minor nutrient issues.",
			Match: func(s ChannelStats) bool {
				return s.GreenMean > s.RedMean+15
			},
			Confidence: func(s ChannelStats) float64 {
				return math.Min(0.8, 0.5+(s.GreenMean-s.RedMean)/120)
			},
		},
		unsureRule,
	}
}

var unsureRule = Rule{
	Label:     LabelUnsureOrPest,
	Rationale: "Mixed signals; further inspection recommended.",
	Match:     func(ChannelStats) bool { return true },
	Confidence: func(s ChannelStats) float64 {
		return 0.45 + math.Abs(s.GreenMean-s.RedMean)/400
	},
}

// Classifier maps photos to condition labels. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier over the given rules, or DefaultRules when
// none are passed. If no rule matches, the unsure outcome is used.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify resamples img, measures its channel statistics and applies the
// rules. The crop is accepted for symmetry with catalog lookups and does not
// change the outcome.
func (c *Classifier) Classify(img image.Image, _ Crop) (ClassificationResult, error) {
	stats, err := MeasureChannels(img)
	if err != nil {
		return ClassificationResult{}, err
	}
	return c.ClassifyStats(stats), nil
}

// ClassifyStats applies the rules to precomputed statistics.
func (c *Classifier) ClassifyStats(stats ChannelStats) ClassificationResult {
	rule := unsureRule
	for _, r := range c.rules {
		if r.Match(stats) {
			rule = r
			break
		}
	}
	return ClassificationResult{
		Label:      rule.Label,
		Confidence: roundConfidence(rule.Confidence(stats)),
		Rationale:  rule.Rationale,
	}
}

// MeasureChannels resamples img to SampleSize x SampleSize with a bicubic
// kernel and returns the per-channel means and the mean standard deviation.
// Alpha is ignored: transparent pixels count with their stored RGB values.
func MeasureChannels(img image.Image) (ChannelStats, error) {
	if img == nil {
		return ChannelStats{}, fmt.Errorf("%w: no image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Empty() {
		return ChannelStats{}, fmt.Errorf("%w: empty bounds %v", ErrInvalidImage, b)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, SampleSize, SampleSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), opaque(img), b, draw.Src, nil)

	var sum, sumSq [3]float64
	for i := 0; i < len(dst.Pix); i += 4 {
		for ch := 0; ch < 3; ch++ {
			v := float64(dst.Pix[i+ch])
			sum[ch] += v
			sumSq[ch] += v * v
		}
	}

	n := float64(SampleSize * SampleSize)
	var mean, std [3]float64
	for ch := 0; ch < 3; ch++ {
		mean[ch] = sum[ch] / n
		variance := sumSq[ch]/n - mean[ch]*mean[ch]
		if variance < 0 {
			variance = 0
		}
		std[ch] = math.Sqrt(variance)
	}

	return ChannelStats{
		RedMean:     mean[0],
		GreenMean:   mean[1],
		BlueMean:    mean[2],
		Variability: (std[0] + std[1] + std[2]) / 3,
	}, nil
}

// opaque returns img with every alpha forced to 255. Scaling premultiplies,
// so without this a transparent pixel would read as black.
func opaque(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	if src, ok := img.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(out.Pix[out.PixOffset(b.Min.X, y):out.PixOffset(b.Max.X, y)],
				src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)])
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.SetNRGBA(x, y, color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
			}
		}
	}
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// roundConfidence clamps to [0,1] and rounds to two decimal places.
func roundConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*100) / 100
}

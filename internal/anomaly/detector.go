package anomaly

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/internal/config"
	"github.com/motorwatch/motorwatch/pkg/models"
)

// Detector scores readings against its rolling window. It is not
// goroutine-safe: the pipeline owns it and serializes all Observe calls,
// matching the single-writer discipline of the shared history buffers.
type Detector struct {
	cfg config.AnomalyConfig
	log zerolog.Logger
	rng *rand.Rand

	window [][]float64 // raw feature vectors, oldest first

	// Fit artifacts. All three are replaced together on refit.
	forest    *forest
	means     []float64
	stds      []float64
	threshold float64

	sinceFit int
	lastFit  time.Time
}

// New returns a Detector seeded deterministically, so a replayed reading
// sequence produces identical verdicts.
func New(cfg config.AnomalyConfig, log zerolog.Logger, seed int64) *Detector {
	return &Detector{
		cfg: cfg,
		log: log.With().Str("component", "anomaly").Logger(),
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Observe appends the reading to the rolling window and returns its
// verdict. Below the minimum window population the verdict is Unscored and
// non-anomalous regardless of the values.
func (d *Detector) Observe(r models.Reading, now time.Time) models.AnomalyVerdict {
	vec := vectorize(r)
	d.push(vec)

	if len(d.window) < d.cfg.MinPopulation {
		return models.AnomalyVerdict{Timestamp: now, Unscored: true}
	}

	d.sinceFit++
	if d.forest == nil || d.sinceFit >= d.cfg.RefitEvery || now.Sub(d.lastFit) >= d.cfg.RefitInterval {
		d.refit(now)
	}

	z := d.standardize(vec)
	score := d.forest.score(z)

	return models.AnomalyVerdict{
		Timestamp:    now,
		IsAnomaly:    score >= d.threshold,
		Score:        score,
		Contributing: d.contributions(vec, z),
	}
}

// WindowLen reports the current rolling window population.
func (d *Detector) WindowLen() int { return len(d.window) }

func (d *Detector) push(vec []float64) {
	d.window = append(d.window, vec)
	if len(d.window) > d.cfg.WindowSize {
		d.window = d.window[len(d.window)-d.cfg.WindowSize:]
	}
}

// refit rebuilds the fit artifacts from the current window: per-feature
// standardization stats, the forest itself and the contamination-quantile
// threshold over the window's own scores.
func (d *Detector) refit(now time.Time) {
	d.means, d.stds = fitStats(d.window)

	rows := make([][]float64, len(d.window))
	for i, vec := range d.window {
		rows[i] = d.standardize(vec)
	}
	d.forest = fitForest(rows, d.cfg.Trees, d.cfg.SubsampleSize, d.rng)

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = d.forest.score(row)
	}
	sort.Float64s(scores)
	idx := int(float64(len(scores)) * (1 - d.cfg.Contamination))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	d.threshold = scores[idx]

	d.sinceFit = 0
	d.lastFit = now
	d.log.Debug().
		Int("window", len(d.window)).
		Float64("threshold", d.threshold).
		Msg("model refit")
}

// standardize maps a raw vector into z-scores under the fit stats; missing
// channels impute to the window mean (z of zero).
func (d *Detector) standardize(vec []float64) []float64 {
	z := make([]float64, len(vec))
	for i, v := range vec {
		if math.IsNaN(v) || d.stds[i] == 0 {
			z[i] = 0
			continue
		}
		z[i] = (v - d.means[i]) / d.stds[i]
	}
	return z
}

// contributions orders the reported channels by how far they sit from the
// fitted window, most deviant first.
func (d *Detector) contributions(vec, z []float64) []models.FeatureContribution {
	out := make([]models.FeatureContribution, 0, len(z))
	for i, dev := range z {
		if math.IsNaN(vec[i]) {
			continue
		}
		out = append(out, models.FeatureContribution{
			Feature:   featureNames[i],
			Deviation: dev,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Deviation) > math.Abs(out[j].Deviation)
	})
	return out
}

// fitStats computes per-feature mean and standard deviation over the
// non-missing entries of the window.
func fitStats(window [][]float64) (means, stds []float64) {
	n := len(featureNames)
	means = make([]float64, n)
	stds = make([]float64, n)

	for i := 0; i < n; i++ {
		var sum float64
		var count int
		for _, vec := range window {
			if !math.IsNaN(vec[i]) {
				sum += vec[i]
				count++
			}
		}
		if count == 0 {
			continue
		}
		means[i] = sum / float64(count)

		var sq float64
		for _, vec := range window {
			if !math.IsNaN(vec[i]) {
				diff := vec[i] - means[i]
				sq += diff * diff
			}
		}
		stds[i] = math.Sqrt(sq / float64(count))
	}
	return means, stds
}

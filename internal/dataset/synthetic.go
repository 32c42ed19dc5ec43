package dataset

import "math/rand"

// GaussianConfig describes a balanced mixture of isotropic Gaussian clusters,
// one per class.
type GaussianConfig struct {
	Examples int
	Features int
	Classes  int
	// Spread is the standard deviation around each class centre.
	Spread float64
	Seed   int64
}

// Gaussian draws labelled examples from cfg. Labels cycle through the
// classes so every class is equally represented.
func Gaussian(cfg GaussianConfig) []Example {
	if cfg.Spread <= 0 {
		cfg.Spread = 1
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	centres := make([][]float64, cfg.Classes)
	for c := range centres {
		centres[c] = make([]float64, cfg.Features)
		for j := range centres[c] {
			centres[c][j] = rng.NormFloat64() * 2
		}
	}
	out := make([]Example, cfg.Examples)
	for i := range out {
		label := i % cfg.Classes
		features := make([]float64, cfg.Features)
		for j := range features {
			features[j] = centres[label][j] + rng.NormFloat64()*cfg.Spread
		}
		out[i] = Example{Features: features, Label: label}
	}
	return out
}

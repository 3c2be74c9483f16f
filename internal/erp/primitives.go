package erp

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

type primitive struct {
	name   string
	sample func(rng *rand.Rand, params Params) Value
	score  func(params Params, v Value) float64
}

// New builds an ERP from a sampler and a scorer.
func New(name string, sample func(rng *rand.Rand, params Params) Value, score func(params Params, v Value) float64) ERP {
	return &primitive{name: name, sample: sample, score: score}
}

func (p *primitive) Name() string { return p.name }

func (p *primitive) Sample(rng *rand.Rand, params Params) Value { return p.sample(rng, params) }

func (p *primitive) Score(params Params, v Value) float64 { return p.score(params, v) }

var (
	// Flip takes [p] and yields a bool.
	Flip = New("flip", sampleFlip, scoreFlip)
	// Gaussian takes [mu, sigma] and yields a float64.
	Gaussian = New("gaussian", sampleGaussian, scoreGaussian)
	// Uniform takes [a, b] and yields a float64.
	Uniform = New("uniform", sampleUniform, scoreUniform)
	// Beta takes [a, b] and yields a float64 in (0, 1).
	Beta = New("beta", sampleBeta, scoreBeta)
	// Gamma takes [shape, scale] and yields a positive float64.
	Gamma = New("gamma", sampleGamma, scoreGamma)
	// Exponential takes [rate] and yields a positive float64.
	Exponential = New("exponential", sampleExponential, scoreExponential)
	// Poisson takes [mu] and yields an int.
	Poisson = New("poisson", samplePoisson, scorePoisson)
	// Discrete takes unnormalized weights and yields the drawn index as an int.
	Discrete = New("discrete", sampleDiscrete, scoreDiscrete)
	// RandomInteger takes [n] and yields an int uniformly in [0, n).
	RandomInteger = New("randomInteger", sampleRandomInteger, scoreRandomInteger)
	// Dirichlet takes the concentration vector and yields a []float64 on the simplex.
	Dirichlet = New("dirichlet", sampleDirichlet, scoreDirichlet)
)

func sampleFlip(rng *rand.Rand, params Params) Value {
	return rng.Float64() < param(params, 0)
}

func scoreFlip(params Params, v Value) float64 {
	p := param(params, 0)
	if math.IsNaN(p) || p < 0 || p > 1 {
		return math.NaN()
	}
	b, ok := v.(bool)
	if !ok {
		return math.Inf(-1)
	}
	if b {
		return math.Log(p)
	}
	return math.Log(1 - p)
}

func sampleGaussian(rng *rand.Rand, params Params) Value {
	return distuv.Normal{Mu: param(params, 0), Sigma: param(params, 1), Src: rng}.Rand()
}

func scoreGaussian(params Params, v Value) float64 {
	sigma := param(params, 1)
	if !(sigma > 0) {
		return math.NaN()
	}
	x, ok := toFloat(v)
	if !ok {
		return math.Inf(-1)
	}
	return distuv.Normal{Mu: param(params, 0), Sigma: sigma}.LogProb(x)
}

func sampleUniform(rng *rand.Rand, params Params) Value {
	return distuv.Uniform{Min: param(params, 0), Max: param(params, 1), Src: rng}.Rand()
}

func scoreUniform(params Params, v Value) float64 {
	a, b := param(params, 0), param(params, 1)
	if !(b > a) {
		return math.NaN()
	}
	x, ok := toFloat(v)
	if !ok {
		return math.Inf(-1)
	}
	return distuv.Uniform{Min: a, Max: b}.LogProb(x)
}

func sampleBeta(rng *rand.Rand, params Params) Value {
	return distuv.Beta{Alpha: param(params, 0), Beta: param(params, 1), Src: rng}.Rand()
}

func scoreBeta(params Params, v Value) float64 {
	a, b := param(params, 0), param(params, 1)
	if !(a > 0) || !(b > 0) {
		return math.NaN()
	}
	x, ok := toFloat(v)
	if !ok || x <= 0 || x >= 1 {
		return math.Inf(-1)
	}
	return distuv.Beta{Alpha: a, Beta: b}.LogProb(x)
}

func sampleGamma(rng *rand.Rand, params Params) Value {
	return distuv.Gamma{Alpha: param(params, 0), Beta: 1 / param(params, 1), Src: rng}.Rand()
}

func scoreGamma(params Params, v Value) float64 {
	shape, scale := param(params, 0), param(params, 1)
	if !(shape > 0) || !(scale > 0) {
		return math.NaN()
	}
	x, ok := toFloat(v)
	if !ok || x <= 0 {
		return math.Inf(-1)
	}
	return distuv.Gamma{Alpha: shape, Beta: 1 / scale}.LogProb(x)
}

func sampleExponential(rng *rand.Rand, params Params) Value {
	return distuv.Exponential{Rate: param(params, 0), Src: rng}.Rand()
}

func scoreExponential(params Params, v Value) float64 {
	rate := param(params, 0)
	if !(rate > 0) {
		return math.NaN()
	}
	x, ok := toFloat(v)
	if !ok || x < 0 {
		return math.Inf(-1)
	}
	return distuv.Exponential{Rate: rate}.LogProb(x)
}

func samplePoisson(rng *rand.Rand, params Params) Value {
	return int(distuv.Poisson{Lambda: param(params, 0), Src: rng}.Rand())
}

func scorePoisson(params Params, v Value) float64 {
	mu := param(params, 0)
	if !(mu > 0) {
		return math.NaN()
	}
	k, ok := toInt(v)
	if !ok || k < 0 {
		return math.Inf(-1)
	}
	return distuv.Poisson{Lambda: mu}.LogProb(float64(k))
}

func sampleDiscrete(rng *rand.Rand, params Params) Value {
	if !validWeights(params) {
		return 0
	}
	return int(distuv.NewCategorical(params, rng).Rand())
}

func scoreDiscrete(params Params, v Value) float64 {
	if !validWeights(params) {
		return math.NaN()
	}
	i, ok := toInt(v)
	if !ok || i < 0 || i >= len(params) {
		return math.Inf(-1)
	}
	total := 0.0
	for _, w := range params {
		total += w
	}
	return math.Log(params[i] / total)
}

func sampleRandomInteger(rng *rand.Rand, params Params) Value {
	n := int(param(params, 0))
	if n <= 0 {
		return 0
	}
	return rng.IntN(n)
}

func scoreRandomInteger(params Params, v Value) float64 {
	n := param(params, 0)
	if !(n >= 1) {
		return math.NaN()
	}
	i, ok := toInt(v)
	if !ok || i < 0 || float64(i) >= math.Floor(n) {
		return math.Inf(-1)
	}
	return -math.Log(math.Floor(n))
}

func sampleDirichlet(rng *rand.Rand, params Params) Value {
	if !validConcentration(params) {
		return []float64{}
	}
	return distmv.NewDirichlet(params.clone(), rng).Rand(nil)
}

func scoreDirichlet(params Params, v Value) float64 {
	if !validConcentration(params) {
		return math.NaN()
	}
	x, ok := v.([]float64)
	if !ok || len(x) != len(params) {
		return math.Inf(-1)
	}
	total := 0.0
	for _, xi := range x {
		// The open simplex only; a zero component underflowed and has no
		// finite density under every concentration.
		if !(xi > 0) {
			return math.Inf(-1)
		}
		total += xi
	}
	if math.Abs(total-1) > 1e-8 {
		return math.Inf(-1)
	}
	return distmv.NewDirichlet(params.clone(), nil).LogProb(x)
}

func validWeights(w Params) bool {
	if len(w) == 0 {
		return false
	}
	total := 0.0
	for _, x := range w {
		if !(x >= 0) || math.IsInf(x, 1) {
			return false
		}
		total += x
	}
	return total > 0
}

func validConcentration(alpha Params) bool {
	if len(alpha) == 0 {
		return false
	}
	for _, a := range alpha {
		if !(a > 0) || math.IsInf(a, 1) {
			return false
		}
	}
	return true
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func toInt(v Value) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	default:
		return 0, false
	}
}

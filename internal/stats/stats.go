// Package stats is the statistics kernel (C3): Wilson confidence
// intervals, a Bayesian Beta-Binomial comparison, ranking, and the
// tri-state confidence verdict. Every function here is pure — no I/O, no
// global state, deterministic given its inputs — so it can be called
// directly from decision.Service without ever suspending, per §5 of the
// spec. No third-party numerics library is used: none of the example
// repos import one (no gonum, no stat package anywhere in the retrieved
// corpus), and the formulas involved (Wilson score interval, a Beta
// quantile via bisection, a Beta sampler built from two Gamma draws) are short
// enough that stdlib math/math-rand is the idiomatic choice the corpus
// itself would make.
package stats

import (
	"math"
	"math/rand"
	"sort"
)

// DefaultZ is the z-score for a 95% Wilson confidence interval.
const DefaultZ = 1.959963984540054

// PriorAlpha and PriorBeta are the Beta-Binomial priors (uniform prior).
const (
	PriorAlpha = 1.0
	PriorBeta  = 1.0
)

// MonteCarloSamples is the number of posterior draws used to estimate win
// probability.
const MonteCarloSamples = 10000

// Variant is one arm of the comparison.
type Variant struct {
	ID          string
	Clicks      int64
	Conversions int64
}

// Interval is a closed interval clipped to [0, 1].
type Interval struct {
	Lower float64
	Point float64
	Upper float64
}

// WilsonInterval computes the Wilson score interval for c successes out of
// n trials at the given z. Undefined (n=0) returns the full [0,1] interval
// with point estimate 0.
func WilsonInterval(n, c int64, z float64) Interval {
	if n <= 0 {
		return Interval{Lower: 0, Point: 0, Upper: 1}
	}
	nf := float64(n)
	phat := float64(c) / nf
	z2 := z * z
	denom := 1 + z2/nf
	centre := (phat + z2/(2*nf)) / denom
	spread := z * math.Sqrt(phat*(1-phat)/nf+z2/(4*nf*nf)) / denom
	lower := clip01(centre - spread)
	upper := clip01(centre + spread)
	if lower > phat {
		lower = phat
	}
	if upper < phat {
		upper = phat
	}
	return Interval{Lower: lower, Point: phat, Upper: upper}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SignificantlyBeats reports whether a's Wilson lower bound exceeds b's
// Wilson upper bound.
func SignificantlyBeats(a, b Interval) bool {
	return a.Lower > b.Upper
}

// BetaPosterior is the posterior Beta(alpha, beta) for one variant.
type BetaPosterior struct {
	Alpha float64
	Beta  float64
}

// Posterior returns the Beta-Binomial posterior for a variant given the
// uniform Beta(1,1) prior.
func Posterior(v Variant) BetaPosterior {
	return BetaPosterior{
		Alpha: PriorAlpha + float64(v.Conversions),
		Beta:  PriorBeta + float64(v.Clicks-v.Conversions),
	}
}

// CredibleInterval returns the 95% credible interval [quantile(.025),
// quantile(.975)] of the posterior, via bisection on the regularized
// incomplete beta function.
func (p BetaPosterior) CredibleInterval() Interval {
	lower := p.Quantile(0.025)
	upper := p.Quantile(0.975)
	mean := p.Alpha / (p.Alpha + p.Beta)
	return Interval{Lower: lower, Point: mean, Upper: upper}
}

// Quantile returns the value x such that CDF(x) = q, via bisection. This
// avoids depending on a numerics library for the inverse regularized
// incomplete beta function.
func (p BetaPosterior) Quantile(q float64) float64 {
	lo, hi := 0.0, 1.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if regularizedIncompleteBeta(mid, p.Alpha, p.Beta) < q {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// regularizedIncompleteBeta computes I_x(a, b) via the continued-fraction
// expansion (Numerical Recipes' betacf), the standard approach when no
// special-functions library is available.
func regularizedIncompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lnBeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lnBeta + a*math.Log(x) + b*math.Log(1-x))
	if x < (a+1)/(a+b+2) {
		return front * betacf(x, a, b) / a
	}
	return 1 - front*betacf(1-x, b, a)/b
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

func betacf(x, a, b float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		fpmin   = 1e-300
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		mf := float64(m)
		m2 := 2 * mf
		aa := mf * (b - mf) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c
		aa = -(a + mf) * (qab + mf) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

// sampleBeta draws one Beta(alpha, beta) variate via two Gamma draws,
// using the rejection-sampling Gamma generator from math/rand's Float64
// (Marsaglia-Tsang), the standard construction when a Beta sampler isn't
// available off the shelf.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// WinProbabilities runs a MonteCarloSamples-draw simulation, returning the
// fraction of draws in which each variant's sampled conversion rate is the
// (tie-broken) maximum. Ties within a draw are broken by the variant with
// the higher point estimate.
func WinProbabilities(variants []Variant) map[string]float64 {
	rng := rand.New(rand.NewSource(1)) // fixed seed: the evaluator must be deterministic
	posteriors := make([]BetaPosterior, len(variants))
	wins := make([]int, len(variants))
	points := make([]float64, len(variants))
	for i, v := range variants {
		posteriors[i] = Posterior(v)
		if v.Clicks > 0 {
			points[i] = float64(v.Conversions) / float64(v.Clicks)
		}
	}

	for s := 0; s < MonteCarloSamples; s++ {
		best := -1
		bestVal := -1.0
		for i, p := range posteriors {
			draw := sampleBeta(rng, p.Alpha, p.Beta)
			if draw > bestVal || (draw == bestVal && best >= 0 && points[i] > points[best]) {
				bestVal = draw
				best = i
			}
		}
		if best >= 0 {
			wins[best]++
		}
	}

	out := make(map[string]float64, len(variants))
	for i, v := range variants {
		out[v.ID] = float64(wins[i]) / float64(MonteCarloSamples)
	}
	return out
}

// RankedVariant is one row of a ranking, including its stats.
type RankedVariant struct {
	Variant            Variant
	Wilson             Interval
	Posterior          BetaPosterior
	Credible           Interval
	WinProbability     float64
	PointEstimate      float64
	Rank               int
}

// Rank sorts variants by (bayesian win probability desc, point estimate
// desc), sharing rank between neighbours with equal point estimates and
// either equal win probabilities or identical posteriors (the Monte Carlo
// win probabilities of identical posteriors can differ by sampling noise).
func Rank(variants []Variant, z float64) []RankedVariant {
	winProb := WinProbabilities(variants)
	rows := make([]RankedVariant, len(variants))
	for i, v := range variants {
		point := 0.0
		if v.Clicks > 0 {
			point = float64(v.Conversions) / float64(v.Clicks)
		}
		p := Posterior(v)
		rows[i] = RankedVariant{
			Variant:        v,
			Wilson:         WilsonInterval(v.Clicks, v.Conversions, z),
			Posterior:      p,
			Credible:       p.CredibleInterval(),
			WinProbability: winProb[v.ID],
			PointEstimate:  point,
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].WinProbability != rows[j].WinProbability {
			return rows[i].WinProbability > rows[j].WinProbability
		}
		return rows[i].PointEstimate > rows[j].PointEstimate
	})
	rank := 1
	for i := range rows {
		if i > 0 && (rows[i].WinProbability == rows[i-1].WinProbability || rows[i].Posterior == rows[i-1].Posterior) && rows[i].PointEstimate == rows[i-1].PointEstimate {
			rows[i].Rank = rows[i-1].Rank
		} else {
			rows[i].Rank = rank
		}
		rank++
	}
	return rows
}

// Thresholds are the verdict thresholds, overridable per run via a run's
// decision-rules document.
type Thresholds struct {
	MinClicksInsufficient      int64
	MinConversionsInsufficient int64
	MinClicksDirectional       int64
	MinConversionsDirectional  int64
	MinConversionsConfident    int64
	MinRelativeLift            float64
}

// DefaultThresholds is the default verdict threshold configuration.
var DefaultThresholds = Thresholds{
	MinClicksInsufficient:      200,
	MinConversionsInsufficient: 3,
	MinClicksDirectional:       200,
	MinConversionsDirectional:  5,
	MinConversionsConfident:    20,
	MinRelativeLift:            0.05,
}

// Result is the full decision output for a run.
type Result struct {
	Ranking                      []RankedVariant
	Confidence                   string
	WinnerID                     string
	Rationale                    string
	TotalClicks                  int64
	TotalConversions             int64
	AdditionalClicksNeeded       int64
	AdditionalConversionsNeeded  int64
}

// Evaluate runs the full pipeline: ranks variants, then derives the
// tri-state confidence verdict and a one-sentence rationale.
func Evaluate(variants []Variant, th Thresholds, z float64) Result {
	ranking := Rank(variants, z)

	var totalClicks, totalConv int64
	for _, v := range variants {
		totalClicks += v.Clicks
		totalConv += v.Conversions
	}

	res := Result{
		Ranking:          ranking,
		TotalClicks:      totalClicks,
		TotalConversions: totalConv,
	}

	if totalClicks < th.MinClicksInsufficient || totalConv < th.MinConversionsInsufficient {
		res.Confidence = "insufficient"
		res.AdditionalClicksNeeded = max64(0, th.MinClicksInsufficient-totalClicks)
		res.AdditionalConversionsNeeded = additionalClicksForConversions(ranking, th.MinConversionsConfident, totalConv)
		res.Rationale = "insufficient: need at least 200 total clicks and 3 total conversions before any verdict can be drawn"
		return res
	}

	if len(ranking) >= 2 {
		top, second := ranking[0], ranking[1]
		if totalConv >= th.MinConversionsConfident &&
			stats_wilsonSeparated(top, second) &&
			relativeLift(top.PointEstimate, second.PointEstimate) >= th.MinRelativeLift {
			res.Confidence = "confident"
			res.WinnerID = top.Variant.ID
			res.Rationale = "confident: top variant's Wilson lower bound exceeds the runner-up's upper bound, with at least 20 conversions and a 5%+ relative lift"
			return res
		}
	}

	if totalClicks >= th.MinClicksDirectional && totalConv >= th.MinConversionsDirectional {
		res.Confidence = "directional"
		res.AdditionalConversionsNeeded = additionalClicksForConversions(ranking, th.MinConversionsConfident, totalConv)
		res.Rationale = "directional: enough samples for a directional read (200+ clicks, 5+ conversions), but not yet enough separation or volume for a confident call"
		return res
	}

	res.Confidence = "directional"
	res.Rationale = "directional: default verdict; explicit thresholds for confident were not met"
	return res
}

func stats_wilsonSeparated(top, second RankedVariant) bool {
	return top.Wilson.Lower > second.Wilson.Upper
}

func relativeLift(top, second float64) float64 {
	if second == 0 {
		if top > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return (top - second) / second
}

// additionalClicksForConversions estimates the extra clicks needed to
// reach minConversions total conversions at the best variant's observed
// CVR. Kept separate from the click-floor shortfall (see Open Questions in
// SPEC_FULL.md: the source conflated the two; this implementation reports
// both explicitly on Result).
func additionalClicksForConversions(ranking []RankedVariant, minConversions, totalConv int64) int64 {
	if totalConv >= minConversions {
		return 0
	}
	if len(ranking) == 0 {
		return 0
	}
	best := ranking[0]
	if best.PointEstimate <= 0 {
		return 0
	}
	remaining := float64(minConversions - totalConv)
	return int64(math.Ceil(remaining / best.PointEstimate))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

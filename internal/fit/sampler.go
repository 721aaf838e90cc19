package fit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// Target is a posterior the sampler can explore. *Problem implements it;
// tests substitute analytic densities.
type Target interface {
	Dim() int
	LogProbability(theta []float64) (float64, error)
	InitialGuess(rng *rand.Rand) []float64
}

// Config tunes the ensemble sampler.
type Config struct {
	// Walkers is the ensemble size. Must be even and at least twice the
	// parameter dimension for the stretch move to span the space.
	Walkers int
	// Steps is the number of ensemble updates.
	Steps int
	// Stretch is the move's scale parameter a. Zero selects the standard
	// value 2.
	Stretch float64
	// Seed fixes the random stream; runs with equal seeds are identical.
	Seed uint64
}

// Validate checks the ensemble shape against the target dimension.
func (c Config) Validate(dim int) error {
	if c.Walkers < 2*dim || c.Walkers%2 != 0 {
		return fmt.Errorf("%w: %d walkers for dimension %d, want an even count >= %d",
			ErrBadProblem, c.Walkers, dim, 2*dim)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("%w: step count %d must be positive", ErrBadProblem, c.Steps)
	}
	if c.Stretch != 0 && c.Stretch <= 1 {
		return fmt.Errorf("%w: stretch parameter %g must exceed 1", ErrBadProblem, c.Stretch)
	}
	return nil
}

// Sample is one walker state after an ensemble update.
type Sample struct {
	Step    int
	Walker  int
	Theta   []float64
	LogProb float64
}

// Run explores the target with the affine-invariant stretch move. Each
// half of the ensemble updates against the other half; proposal densities
// are evaluated concurrently, while the random stream advances serially
// so a fixed seed reproduces the chain exactly. record receives every
// walker state once per step and may persist or discard it; a record
// error aborts the run.
func Run(ctx context.Context, target Target, cfg Config, record func(Sample) error) error {
	dim := target.Dim()
	if err := cfg.Validate(dim); err != nil {
		return err
	}
	a := cfg.Stretch
	if a == 0 {
		a = 2
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	uniform := distuv.Uniform{Min: 0, Max: 1, Src: rng}

	walkers := make([][]float64, cfg.Walkers)
	logProbs := make([]float64, cfg.Walkers)
	for k := range walkers {
		walkers[k] = target.InitialGuess(rng)
	}
	if err := evalAll(target, walkers, logProbs); err != nil {
		return err
	}

	half := cfg.Walkers / 2
	proposals := make([][]float64, half)
	propLogProbs := make([]float64, half)
	zs := make([]float64, half)

	for step := 0; step < cfg.Steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, offset := range []int{0, half} {
			// Draw all randomness for this half before the parallel
			// evaluation so the stream order is deterministic.
			for i := 0; i < half; i++ {
				k := offset + i
				partner := walkers[(offset+half)%cfg.Walkers+rng.IntN(half)]
				// g(z) ~ 1/sqrt(z) on [1/a, a].
				z := math.Pow((a-1)*uniform.Rand()+1, 2) / a
				zs[i] = z
				prop := make([]float64, dim)
				for d := 0; d < dim; d++ {
					prop[d] = partner[d] + z*(walkers[k][d]-partner[d])
				}
				proposals[i] = prop
			}
			if err := evalAll(target, proposals, propLogProbs); err != nil {
				return err
			}
			for i := 0; i < half; i++ {
				k := offset + i
				lnq := float64(dim-1)*math.Log(zs[i]) + propLogProbs[i] - logProbs[k]
				if math.Log(uniform.Rand()) < lnq {
					walkers[k] = proposals[i]
					logProbs[k] = propLogProbs[i]
				}
			}
		}

		if record != nil {
			for k := range walkers {
				s := Sample{Step: step, Walker: k, Theta: append([]float64(nil), walkers[k]...), LogProb: logProbs[k]}
				if err := record(s); err != nil {
					return fmt.Errorf("fit: record step %d walker %d: %w", step, k, err)
				}
			}
		}
	}
	return nil
}

// evalAll evaluates the target density at every position concurrently and
// stores the results in out.
func evalAll(target Target, positions [][]float64, out []float64) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range positions {
		g.Go(func() error {
			lp, err := target.LogProbability(positions[i])
			if err != nil {
				return err
			}
			out[i] = lp
			return nil
		})
	}
	return g.Wait()
}

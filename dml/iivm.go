package dml

import (
	"github.com/YuminosukeSato/causalgo/core/model"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// IIVM is the interactive IV model for a binary treatment D and a binary
// instrument Z, estimating the local average treatment effect
//
//	θ = (E[g(1,X)] - E[g(0,X)]) / (E[r(1,X)] - E[r(0,X)])
//
// with g(z, X) = E[Y|Z=z,X], m(X) = P(Z=1|X) and r(z, X) = E[D|Z=z,X].
// g0/g1 and r0/r1 are trained on the train rows with z == 0 and z == 1 only.
type IIVM struct {
	*DoubleML

	mlG, mlM, mlR model.Learner
	score         ScoreKind
	callable      ScoreFunc
	trimming      float64
	alwaysTakers  bool
	neverTakers   bool
}

// NewIIVM builds an IIVM model. mlM and mlR must be classifiers; mlG may be
// a classifier when the outcome is binary.
func NewIIVM(data *Data, mlG, mlM, mlR model.Learner, opts ...Option) (*IIVM, error) {
	cfg := defaultConfig(LATE.String())
	for _, opt := range opts {
		opt(&cfg)
	}
	score, err := ParseScoreKind(cfg.score)
	if err != nil {
		return nil, err
	}
	if score != LATE && score != Callable {
		return nil, errors.NewValidationError("score", "IIVM supports 'LATE' or a callable", cfg.score)
	}
	if data.NTreat() != 1 {
		return nil, errors.NewValidationError("data", "IIVM requires exactly one treatment variable", data.NTreat())
	}
	if !isBinary(data.D(0)) {
		return nil, errors.NewValidationError("data", "IIVM requires a binary treatment with values 0 and 1", data.dCols[0])
	}
	if data.NInstr() != 1 {
		return nil, errors.NewValidationError("data", "IIVM requires exactly one instrument", data.NInstr())
	}
	if !isBinary(data.Z(0)) {
		return nil, errors.NewValidationError("data", "IIVM requires a binary instrument with values 0 and 1", data.zCols[0])
	}
	if mlG == nil {
		return nil, errors.NewValidationError("ml_g", "learner is required", nil)
	}
	if _, ok := mlG.(model.Classifier); ok {
		if !isBinary(data.y) {
			return nil, errors.NewValidationError("ml_g",
				"a classifier can only be used when the outcome is binary with values 0 and 1", data.yCol)
		}
	} else if err := requireRegressor("ml_g", mlG); err != nil {
		return nil, err
	}
	if err := requireClassifier("ml_m", mlM); err != nil {
		return nil, err
	}
	if err := requireClassifier("ml_r", mlR); err != nil {
		return nil, err
	}

	m := &IIVM{
		mlG:          mlG,
		mlM:          mlM,
		mlR:          mlR,
		score:        score,
		callable:     cfg.callable,
		trimming:     cfg.trimming,
		alwaysTakers: cfg.alwaysTakers,
		neverTakers:  cfg.neverTakers,
	}
	dml, err := newDoubleML(data, m, cfg)
	if err != nil {
		return nil, err
	}
	m.DoubleML = dml
	return m, nil
}

func (m *IIVM) modelName() string { return "DoubleMLIIVM" }

func (m *IIVM) learners() map[string]model.Learner {
	out := map[string]model.Learner{"ml_g0": m.mlG, "ml_g1": m.mlG, "ml_m": m.mlM}
	if m.alwaysTakers {
		out["ml_r0"] = m.mlR
	}
	if m.neverTakers {
		out["ml_r1"] = m.mlR
	}
	return out
}

func instrumentMasks(z []float64) (z0, z1 []bool) {
	z0 = make([]bool, len(z))
	z1 = make([]bool, len(z))
	for i, v := range z {
		z0[i] = v == 0
		z1[i] = v == 1
	}
	return z0, z1
}

func (m *IIVM) estimate(job *nuisanceJob) (ScoreElements, map[string][]float64, error) {
	z := job.data.Z(0)
	z0, z1 := instrumentMasks(z)
	n := len(z)

	g0, err := job.predict("ml_g0", m.mlG, job.x, job.y, z0)
	if err != nil {
		return nil, nil, err
	}
	g1, err := job.predict("ml_g1", m.mlG, job.x, job.y, z1)
	if err != nil {
		return nil, nil, err
	}
	mHat, err := job.predict("ml_m", m.mlM, job.x, z, nil)
	if err != nil {
		return nil, nil, err
	}
	m.trim(mHat, testIndices(job.folds))

	r0 := constant(n, 0)
	if m.alwaysTakers {
		if r0, err = job.predict("ml_r0", m.mlR, job.x, job.d, z0); err != nil {
			return nil, nil, err
		}
	}
	r1 := constant(n, 1)
	if m.neverTakers {
		if r1, err = job.predict("ml_r1", m.mlR, job.x, job.d, z1); err != nil {
			return nil, nil, err
		}
	}
	preds := map[string][]float64{"ml_g0": g0, "ml_g1": g1, "ml_m": mHat, "ml_r0": r0, "ml_r1": r1}

	if m.score == Callable {
		el, err := m.callable(ScoreInput{Y: job.y, D: job.d, Z: z, Preds: preds, Folds: job.folds})
		return el, preds, err
	}
	return lateScore(job.y, job.d, z, g0, g1, mHat, r0, r1), preds, nil
}

// lateScore is
//
//	psi_b = g1 - g0 + z(y-g1)/m - (1-z)(y-g0)/(1-m)
//	psi_a = -(r1 - r0 + z(d-r1)/m - (1-z)(d-r0)/(1-m))
func lateScore(y, d, z, g0, g1, mHat, r0, r1 []float64) ScoreElements {
	n := len(y)
	psiA := make([]float64, n)
	psiB := make([]float64, n)
	for i := 0; i < n; i++ {
		psiB[i] = g1[i] - g0[i] + z[i]*(y[i]-g1[i])/mHat[i] - (1-z[i])*(y[i]-g0[i])/(1-mHat[i])
		psiA[i] = -(r1[i] - r0[i] + z[i]*(d[i]-r1[i])/mHat[i] - (1-z[i])*(d[i]-r0[i])/(1-mHat[i]))
	}
	return ScoreElements{PsiA: psiA, PsiB: psiB}
}

// trim clips the propensity on inds to [t, 1-t] and raises a
// PropensityWarning when values were clipped.
func (m *IIVM) trim(mHat []float64, inds []int) {
	t := m.trimming
	clipped := 0
	for _, i := range inds {
		v := errors.ClipValue(mHat[i], t, 1-t)
		if v != mHat[i] {
			clipped++
		}
		mHat[i] = v
	}
	if clipped > 0 {
		errors.Warn(errors.NewPropensityWarning("ml_m", t, clipped))
	}
}

func (m *IIVM) tune(job *tuneJob) (map[string][]*msel.SearchResult, error) {
	z := job.data.Z(0)
	z0, z1 := instrumentMasks(z)
	out := make(map[string][]*msel.SearchResult)

	var err error
	if out["ml_g0"], err = job.search("ml_g0", "ml_g", m.mlG, job.x, job.y, z0); err != nil {
		return nil, err
	}
	if out["ml_g1"], err = job.search("ml_g1", "ml_g", m.mlG, job.x, job.y, z1); err != nil {
		return nil, err
	}
	if out["ml_m"], err = job.search("ml_m", "", m.mlM, job.x, z, nil); err != nil {
		return nil, err
	}
	if m.alwaysTakers {
		if out["ml_r0"], err = job.search("ml_r0", "ml_r", m.mlR, job.x, job.d, z0); err != nil {
			return nil, err
		}
	}
	if m.neverTakers {
		if out["ml_r1"], err = job.search("ml_r1", "ml_r", m.mlR, job.x, job.d, z1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

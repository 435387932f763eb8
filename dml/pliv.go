package dml

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/linear"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// PLIV is the partially linear IV regression model
//
//	Y - D·θ = g(X) + ζ,  E[ζ | Z, X] = 0
//	Z = m(X) + V,        E[V | X] = 0
//
// The partial-X variant learns ml_l = E[Y|X], ml_m = E[Z|X] (one learner per
// instrument), ml_r = E[D|X] and, for the IV-type score, ml_g. The partial-Z
// variant only learns ml_r = E[D|X,Z].
type PLIV struct {
	*DoubleML

	mlL, mlM, mlR, mlG model.Learner
	partialZ           bool
	score              ScoreKind
	callable           ScoreFunc
	mNames             []string
}

// NewPLIV builds a partial-X PLIV model.
func NewPLIV(data *Data, mlL, mlM, mlR model.Learner, opts ...Option) (*PLIV, error) {
	cfg := defaultConfig(PartiallingOut.String())
	for _, opt := range opts {
		opt(&cfg)
	}
	score, err := ParseScoreKind(cfg.score)
	if err != nil {
		return nil, err
	}
	if score == LATE {
		return nil, errors.NewValidationError("score", "PLIV supports 'partialling out', 'IV-type' or a callable", cfg.score)
	}
	if data.NInstr() == 0 {
		return nil, errors.NewValidationError("data", "PLIV requires at least one instrument", 0)
	}
	if data.NInstr() > 1 && score != PartiallingOut {
		return nil, errors.NewNotImplementedError("score '" + cfg.score + "' with several instruments")
	}
	for name, l := range map[string]model.Learner{"ml_l": mlL, "ml_m": mlM, "ml_r": mlR} {
		if err := requireRegressor(name, l); err != nil {
			return nil, err
		}
	}
	if score == IVType && cfg.mlG == nil {
		return nil, errors.NewValidationError("ml_g", "the IV-type score requires a learner for g", nil)
	}
	if cfg.mlG != nil {
		if err := requireRegressor("ml_g", cfg.mlG); err != nil {
			return nil, err
		}
	}

	m := &PLIV{mlL: mlL, mlM: mlM, mlR: mlR, mlG: cfg.mlG, score: score, callable: cfg.callable}
	if score == PartiallingOut {
		m.mlG = nil
	}
	m.mNames = []string{"ml_m"}
	if data.NInstr() > 1 {
		m.mNames = make([]string, data.NInstr())
		for k, c := range data.zCols {
			m.mNames[k] = "ml_m_" + c
		}
	}
	dml, err := newDoubleML(data, m, cfg)
	if err != nil {
		return nil, err
	}
	m.DoubleML = dml
	return m, nil
}

// NewPLIVPartialZ builds the partial-Z PLIV model, which only learns
// r(X, Z) = E[D | X, Z]. Only the partialling-out score is available.
func NewPLIVPartialZ(data *Data, mlR model.Learner, opts ...Option) (*PLIV, error) {
	cfg := defaultConfig(PartiallingOut.String())
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.score != PartiallingOut.String() {
		return nil, errors.NewValidationError("score", "partial-Z PLIV only supports 'partialling out'", cfg.score)
	}
	if data.NInstr() == 0 {
		return nil, errors.NewValidationError("data", "PLIV requires at least one instrument", 0)
	}
	if err := requireRegressor("ml_r", mlR); err != nil {
		return nil, err
	}
	m := &PLIV{mlR: mlR, partialZ: true, score: PartiallingOut}
	dml, err := newDoubleML(data, m, cfg)
	if err != nil {
		return nil, err
	}
	m.DoubleML = dml
	return m, nil
}

func (m *PLIV) modelName() string { return "DoubleMLPLIV" }

func (m *PLIV) learners() map[string]model.Learner {
	if m.partialZ {
		return map[string]model.Learner{"ml_r": m.mlR}
	}
	out := map[string]model.Learner{"ml_l": m.mlL, "ml_r": m.mlR}
	for _, name := range m.mNames {
		out[name] = m.mlM
	}
	if m.mlG != nil {
		out["ml_g"] = m.mlG
	}
	return out
}

func (m *PLIV) estimate(job *nuisanceJob) (ScoreElements, map[string][]float64, error) {
	if m.partialZ {
		return m.estimatePartialZ(job)
	}

	lHat, err := job.predict("ml_l", m.mlL, job.x, job.y, nil)
	if err != nil {
		return nil, nil, err
	}
	rHat, err := job.predict("ml_r", m.mlR, job.x, job.d, nil)
	if err != nil {
		return nil, nil, err
	}
	preds := map[string][]float64{"ml_l": lHat, "ml_r": rHat}
	mHats := make([][]float64, len(m.mNames))
	for k, name := range m.mNames {
		mHats[k], err = job.predict(name, m.mlM, job.x, job.data.Z(k), nil)
		if err != nil {
			return nil, nil, err
		}
		preds[name] = mHats[k]
	}

	u := sub(job.y, lHat)
	w := sub(job.d, rHat)
	if len(m.mNames) > 1 {
		return m.partialXMulti(job, u, w, mHats, preds)
	}

	z := job.data.Z(0)
	v := sub(z, mHats[0])
	if m.mlG != nil {
		theta0 := initialTheta(neg(mul(w, v)), mul(v, u), testIndices(job.folds))
		gHat, err := job.predict("ml_g", m.mlG, job.x, sub(job.y, scale(job.d, theta0)), nil)
		if err != nil {
			return nil, nil, err
		}
		preds["ml_g"] = gHat
	}

	switch m.score {
	case PartiallingOut:
		return ScoreElements{PsiA: neg(mul(w, v)), PsiB: mul(v, u)}, preds, nil
	case IVType:
		return ScoreElements{PsiA: neg(mul(v, job.d)), PsiB: mul(v, sub(job.y, preds["ml_g"]))}, preds, nil
	default:
		el, err := m.callable(ScoreInput{Y: job.y, D: job.d, Z: z, Preds: preds, Folds: job.folds})
		return el, preds, err
	}
}

// partialXMulti combines several instruments: r̃ are the fitted values of a
// no-intercept OLS of w on the instrument residuals V over the test rows.
func (m *PLIV) partialXMulti(job *nuisanceJob, u, w []float64, mHats [][]float64, preds map[string][]float64) (ScoreElements, map[string][]float64, error) {
	inds := testIndices(job.folds)
	V := mat.NewDense(len(inds), len(mHats), nil)
	wTest := mat.NewDense(len(inds), 1, nil)
	for c, i := range inds {
		for k := range mHats {
			V.Set(c, k, job.data.z.At(i, k)-mHats[k][i])
		}
		wTest.Set(c, 0, w[i])
	}
	ols := linear.NewLinearRegression(linear.WithFitIntercept(false))
	if err := ols.Fit(V, wTest); err != nil {
		return nil, nil, errors.Wrap(err, "projection of treatment residuals on instrument residuals")
	}
	fitted, err := ols.Predict(V)
	if err != nil {
		return nil, nil, err
	}
	rTilde := scatter(mat.Col(nil, 0, fitted), inds, len(u))
	return ScoreElements{PsiA: neg(mul(w, rTilde)), PsiB: mul(rTilde, u)}, preds, nil
}

func (m *PLIV) estimatePartialZ(job *nuisanceJob) (ScoreElements, map[string][]float64, error) {
	rHat, err := job.predict("ml_r", m.mlR, job.data.XZ(job.treat), job.d, nil)
	if err != nil {
		return nil, nil, err
	}
	return ScoreElements{PsiA: neg(mul(rHat, job.d)), PsiB: mul(rHat, job.y)},
		map[string][]float64{"ml_r": rHat}, nil
}

func (m *PLIV) tune(job *tuneJob) (map[string][]*msel.SearchResult, error) {
	if m.partialZ {
		resR, err := job.search("ml_r", "", m.mlR, job.data.XZ(job.treat), job.d, nil)
		if err != nil {
			return nil, err
		}
		return map[string][]*msel.SearchResult{"ml_r": resR}, nil
	}

	resL, err := job.search("ml_l", "", m.mlL, job.x, job.y, nil)
	if err != nil {
		return nil, err
	}
	resR, err := job.search("ml_r", "", m.mlR, job.x, job.d, nil)
	if err != nil {
		return nil, err
	}
	out := map[string][]*msel.SearchResult{"ml_l": resL, "ml_r": resR}
	for k, name := range m.mNames {
		res, err := job.search(name, "ml_m", m.mlM, job.x, job.data.Z(k), nil)
		if err != nil {
			return nil, err
		}
		out[name] = res
	}

	if _, ok := job.grid("ml_g", ""); ok && m.mlG != nil {
		lHat, err := job.inSamplePredict(m.mlL, job.x, job.y, resL)
		if err != nil {
			return nil, err
		}
		rHat, err := job.inSamplePredict(m.mlR, job.x, job.d, resR)
		if err != nil {
			return nil, err
		}
		mHat, err := job.inSamplePredict(m.mlM, job.x, job.data.Z(0), out[m.mNames[0]])
		if err != nil {
			return nil, err
		}
		u, w, v := sub(job.y, lHat), sub(job.d, rHat), sub(job.data.Z(0), mHat)
		theta0 := initialTheta(neg(mul(w, v)), mul(v, u), allIndices(len(job.y)))
		resG, err := job.search("ml_g", "", m.mlG, job.x, sub(job.y, scale(job.d, theta0)), nil)
		if err != nil {
			return nil, err
		}
		out["ml_g"] = resG
	}
	return out, nil
}

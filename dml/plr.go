package dml

import (
	"github.com/YuminosukeSato/causalgo/core/model"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// PLR is the partially linear regression model
//
//	Y = D·θ + g(X) + ζ,  E[ζ | D, X] = 0
//	D = m(X) + V,        E[V | X] = 0
//
// with nuisance learners ml_l for E[Y|X], ml_m for E[D|X] and, for the
// IV-type score, ml_g for g.
type PLR struct {
	*DoubleML

	mlL, mlM, mlG model.Learner
	score         ScoreKind
	callable      ScoreFunc
}

// NewPLR builds a PLR model and draws its sample splitting.
// mlM may be a classifier when every treatment is binary.
func NewPLR(data *Data, mlL, mlM model.Learner, opts ...Option) (*PLR, error) {
	cfg := defaultConfig(PartiallingOut.String())
	for _, opt := range opts {
		opt(&cfg)
	}
	score, err := ParseScoreKind(cfg.score)
	if err != nil {
		return nil, err
	}
	if score == LATE {
		return nil, errors.NewValidationError("score", "PLR supports 'partialling out', 'IV-type' or a callable", cfg.score)
	}
	if data.NInstr() > 0 {
		return nil, errors.NewValidationError("data", "instruments are set; use PLIV for instrumental variable estimation", data.ZCols())
	}
	if err := requireRegressor("ml_l", mlL); err != nil {
		return nil, err
	}
	if err := requireRegressorOrBinaryClassifier("ml_m", mlM, data, data.dCols); err != nil {
		return nil, err
	}
	if score == IVType && cfg.mlG == nil {
		return nil, errors.NewValidationError("ml_g", "the IV-type score requires a learner for g", nil)
	}
	if cfg.mlG != nil {
		if err := requireRegressor("ml_g", cfg.mlG); err != nil {
			return nil, err
		}
	}

	m := &PLR{mlL: mlL, mlM: mlM, mlG: cfg.mlG, score: score, callable: cfg.callable}
	if score == PartiallingOut {
		// g は partialling out では使わない
		m.mlG = nil
	}
	dml, err := newDoubleML(data, m, cfg)
	if err != nil {
		return nil, err
	}
	m.DoubleML = dml
	return m, nil
}

func (m *PLR) modelName() string { return "DoubleMLPLR" }

func (m *PLR) learners() map[string]model.Learner {
	out := map[string]model.Learner{"ml_l": m.mlL, "ml_m": m.mlM}
	if m.mlG != nil {
		out["ml_g"] = m.mlG
	}
	return out
}

func (m *PLR) estimate(job *nuisanceJob) (ScoreElements, map[string][]float64, error) {
	lHat, err := job.predict("ml_l", m.mlL, job.x, job.y, nil)
	if err != nil {
		return nil, nil, err
	}
	mHat, err := job.predict("ml_m", m.mlM, job.x, job.d, nil)
	if err != nil {
		return nil, nil, err
	}
	preds := map[string][]float64{"ml_l": lHat, "ml_m": mHat}

	u := sub(job.y, lHat)
	v := sub(job.d, mHat)
	if m.mlG != nil {
		// partialling out の推定値を初期値として g を学習する
		theta0 := initialTheta(neg(mul(v, v)), mul(v, u), testIndices(job.folds))
		gHat, err := job.predict("ml_g", m.mlG, job.x, sub(job.y, scale(job.d, theta0)), nil)
		if err != nil {
			return nil, nil, err
		}
		preds["ml_g"] = gHat
	}

	switch m.score {
	case PartiallingOut:
		return ScoreElements{PsiA: neg(mul(v, v)), PsiB: mul(v, u)}, preds, nil
	case IVType:
		return ScoreElements{PsiA: neg(mul(v, job.d)), PsiB: mul(v, sub(job.y, preds["ml_g"]))}, preds, nil
	default:
		el, err := m.callable(ScoreInput{Y: job.y, D: job.d, Preds: preds, Folds: job.folds})
		return el, preds, err
	}
}

func (m *PLR) tune(job *tuneJob) (map[string][]*msel.SearchResult, error) {
	resL, err := job.search("ml_l", "", m.mlL, job.x, job.y, nil)
	if err != nil {
		return nil, err
	}
	resM, err := job.search("ml_m", "", m.mlM, job.x, job.d, nil)
	if err != nil {
		return nil, err
	}
	out := map[string][]*msel.SearchResult{"ml_l": resL, "ml_m": resM}

	if _, ok := job.grid("ml_g", ""); ok && m.mlG != nil {
		lHat, err := job.inSamplePredict(m.mlL, job.x, job.y, resL)
		if err != nil {
			return nil, err
		}
		mHat, err := job.inSamplePredict(m.mlM, job.x, job.d, resM)
		if err != nil {
			return nil, err
		}
		u, v := sub(job.y, lHat), sub(job.d, mHat)
		theta0 := initialTheta(neg(mul(v, v)), mul(v, u), allIndices(len(job.y)))
		resG, err := job.search("ml_g", "", m.mlG, job.x, sub(job.y, scale(job.d, theta0)), nil)
		if err != nil {
			return nil, err
		}
		out["ml_g"] = resG
	}
	return out, nil
}

// initialTheta is the partialling-out estimate -mean(psi_b)/mean(psi_a),
// ignoring NaN entries.
func initialTheta(psiA, psiB []float64, inds []int) float64 {
	return -nanMean(psiB, inds) / nanMean(psiA, inds)
}

func scale(v []float64, c float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = c * v[i]
	}
	return out
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func requireRegressor(name string, l model.Learner) error {
	if l == nil {
		return errors.NewValidationError(name, "learner is required", nil)
	}
	if _, ok := l.(model.Predictor); !ok {
		return errors.NewValidationError(name, "learner must implement Predict", nil)
	}
	if _, ok := l.(model.Classifier); ok {
		return errors.NewValidationError(name, "a regressor is required, got a classifier", nil)
	}
	return nil
}

func requireClassifier(name string, l model.Learner) error {
	if l == nil {
		return errors.NewValidationError(name, "learner is required", nil)
	}
	if _, ok := l.(model.Classifier); !ok {
		return errors.NewValidationError(name, "a classifier implementing PredictProba is required", nil)
	}
	return nil
}

// requireRegressorOrBinaryClassifier accepts a regressor, or a classifier
// when every listed treatment column is binary.
func requireRegressorOrBinaryClassifier(name string, l model.Learner, data *Data, cols []string) error {
	if l == nil {
		return errors.NewValidationError(name, "learner is required", nil)
	}
	if _, ok := l.(model.Classifier); ok {
		for j := range cols {
			if !isBinary(data.D(j)) {
				return errors.NewValidationError(name,
					"a classifier can only be used when the treatment is binary with values 0 and 1", cols[j])
			}
		}
		return nil
	}
	return requireRegressor(name, l)
}

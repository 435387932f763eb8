package dml

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/core/model"
	"github.com/YuminosukeSato/causalgo/core/parallel"
	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
	"github.com/YuminosukeSato/causalgo/pkg/log"
)

// nuisanceModel is implemented by PLR, PLIV and IIVM: it names the nuisance
// learners and turns a repetition's folds into score elements.
type nuisanceModel interface {
	modelName() string
	learners() map[string]model.Learner
	estimate(job *nuisanceJob) (ScoreElements, map[string][]float64, error)
	tune(job *tuneJob) (map[string][]*msel.SearchResult, error)
}

// Estimate is a snapshot of a fitted model.
type Estimate struct {
	Coef []float64
	SE   []float64
	// AllCoef and AllSE are indexed [treatment][repetition].
	AllCoef [][]float64
	AllSE   [][]float64
	// AllDMLCoef holds the per-fold estimates of DML1, [treatment][repetition][fold].
	AllDMLCoef [][][]float64
	// Psi and PsiDeriv are the score and its derivative at the estimate,
	// [repetition][treatment][observation], NaN outside test rows.
	Psi      [][][]float64
	PsiDeriv [][][]float64
}

// DoubleML is the cross-fitting engine shared by all models: it owns the
// sample splitting, the nuisance parameters, the estimates and the bootstrap.
type DoubleML struct {
	state  *model.StateManager
	data   *Data
	cfg    config
	model  nuisanceModel
	id     string
	logger log.Logger
	pool   *parallel.Pool

	partition        msel.Partition
	clusterPartition msel.ClusterPartition

	// params[learner][treatment][rep][fold]
	params map[string][][][]map[string]interface{}

	preds    [][]map[string][]float64
	elements [][]ScoreElements
	est      *Estimate
	boot     *BootstrapResult
}

func newDoubleML(data *Data, m nuisanceModel, cfg config) (*DoubleML, error) {
	if err := cfg.validate(data); err != nil {
		return nil, err
	}
	if data.IsClustered() && !cfg.crossFitting {
		return nil, errors.NewNotImplementedError("estimation with clustered data without cross-fitting")
	}
	d := &DoubleML{
		state: model.NewStateManager(),
		data:  data,
		cfg:   cfg,
		model: m,
		id:    uuid.New().String(),
		pool:  parallel.NewPool(cfg.nJobs),
	}
	logger := cfg.logger
	if logger == nil {
		logger = log.GetLoggerWithName("dml")
	}
	d.logger = logger.With(
		log.ModelNameKey, m.modelName(),
		log.EstimatorIDKey, d.id,
	)
	if err := d.drawSampleSplitting(); err != nil {
		return nil, err
	}
	d.resetParams()
	return d, nil
}

func (d *DoubleML) drawSampleSplitting() error {
	if d.data.IsClustered() {
		p, cp, err := msel.ClusterResampling{NFolds: d.cfg.nFolds, NRep: d.cfg.nRep, Seed: d.cfg.seed}.Split(d.data.cluster)
		if err != nil {
			return err
		}
		d.partition, d.clusterPartition = p, cp
		return nil
	}
	p, err := msel.Resampling{
		NFolds:            d.cfg.nFolds,
		NRep:              d.cfg.nRep,
		ApplyCrossFitting: d.cfg.crossFitting,
		Seed:              d.cfg.seed,
	}.Split(d.data.N())
	if err != nil {
		return err
	}
	d.partition = p
	return nil
}

func (d *DoubleML) resetParams() {
	d.params = make(map[string][][][]map[string]interface{})
	for name := range d.model.learners() {
		perTreat := make([][][]map[string]interface{}, d.data.NTreat())
		for j := range perTreat {
			perTreat[j] = make([][]map[string]interface{}, d.partition.NRep())
			for r := range perTreat[j] {
				perTreat[j][r] = make([]map[string]interface{}, len(d.partition[r]))
			}
		}
		d.params[name] = perTreat
	}
}

func (d *DoubleML) invalidate() {
	d.state.Reset()
	d.preds = nil
	d.elements = nil
	d.est = nil
	d.boot = nil
}

// ID returns the estimator id attached to every log record of this model.
func (d *DoubleML) ID() string { return d.id }

// Name returns the model name, e.g. "DoubleMLPLR".
func (d *DoubleML) Name() string { return d.model.modelName() }

// Data returns the data the model was built on.
func (d *DoubleML) Data() *Data { return d.data }

// NFolds returns the number of folds per repetition.
func (d *DoubleML) NFolds() int { return d.partition.NFolds() }

// NRep returns the number of repetitions.
func (d *DoubleML) NRep() int { return d.partition.NRep() }

// Procedure returns the aggregation procedure.
func (d *DoubleML) Procedure() Procedure { return d.cfg.procedure }

// ScoreName returns the name of the score in use.
func (d *DoubleML) ScoreName() string { return d.cfg.score }

// Partition returns a copy of the sample splitting.
func (d *DoubleML) Partition() msel.Partition { return copyPartition(d.partition) }

// SetSampleSplitting replaces the drawn partition. The number of repetitions
// and folds is taken from p, nuisance parameters are reset and any fit is
// invalidated. Not available for clustered data.
func (d *DoubleML) SetSampleSplitting(p msel.Partition) error {
	if d.data.IsClustered() {
		return errors.NewNotImplementedError("externally provided sample splitting for clustered data")
	}
	if err := p.Validate(d.data.N(), d.cfg.crossFitting); err != nil {
		return err
	}
	if !d.cfg.crossFitting && (p.NRep() != 1 || p.NFolds() != 1) {
		return errors.NewValidationError("sample_splitting",
			"without cross-fitting exactly one repetition with one fold is required", p.NRep())
	}
	d.partition = copyPartition(p)
	d.cfg.nRep = p.NRep()
	d.cfg.nFolds = p.NFolds()
	d.resetParams()
	d.invalidate()
	return nil
}

func copyPartition(p msel.Partition) msel.Partition {
	out := make(msel.Partition, len(p))
	for r, folds := range p {
		out[r] = make([]msel.Fold, len(folds))
		for k, f := range folds {
			out[r][k] = msel.Fold{
				Train: append([]int(nil), f.Train...),
				Test:  append([]int(nil), f.Test...),
			}
		}
	}
	return out
}

func (d *DoubleML) treatIndex(treat string) (int, error) {
	for j, c := range d.data.dCols {
		if c == treat {
			return j, nil
		}
	}
	return -1, errors.NewValidationError("treat_var", "not a treatment variable", treat)
}

// SetNuisanceParams sets the hyperparameters of learner for treatment treat
// in every repetition and fold. A nil map restores the learner defaults.
func (d *DoubleML) SetNuisanceParams(learner, treat string, params map[string]interface{}) error {
	perFold := make([][]map[string]interface{}, d.partition.NRep())
	for r := range perFold {
		perFold[r] = make([]map[string]interface{}, len(d.partition[r]))
		for k := range perFold[r] {
			perFold[r][k] = params
		}
	}
	return d.SetNuisanceParamsPerFold(learner, treat, perFold)
}

// SetNuisanceParamsPerFold sets the hyperparameters of learner per
// repetition and fold, indexed [rep][fold].
func (d *DoubleML) SetNuisanceParamsPerFold(learner, treat string, params [][]map[string]interface{}) error {
	l, ok := d.model.learners()[learner]
	if !ok {
		return errors.NewValidationError("learner", fmt.Sprintf("valid learners are %v", learnerNames(d.model)), learner)
	}
	j, err := d.treatIndex(treat)
	if err != nil {
		return err
	}
	if len(params) != d.partition.NRep() {
		return errors.NewDimensionError("SetNuisanceParams", d.partition.NRep(), len(params), 0)
	}
	for r := range params {
		if len(params[r]) != len(d.partition[r]) {
			return errors.NewDimensionError("SetNuisanceParams", len(d.partition[r]), len(params[r]), 1)
		}
		for _, p := range params[r] {
			if _, err := model.CloneWithParams(l, p); err != nil {
				return errors.Wrapf(err, "parameters for %s", learner)
			}
		}
	}
	for r := range params {
		copy(d.params[learner][j][r], params[r])
	}
	d.invalidate()
	return nil
}

// NuisanceParams returns the parameters of learner for treatment treat, [rep][fold].
func (d *DoubleML) NuisanceParams(learner, treat string) ([][]map[string]interface{}, error) {
	perTreat, ok := d.params[learner]
	if !ok {
		return nil, errors.NewValidationError("learner", fmt.Sprintf("valid learners are %v", learnerNames(d.model)), learner)
	}
	j, err := d.treatIndex(treat)
	if err != nil {
		return nil, err
	}
	out := make([][]map[string]interface{}, len(perTreat[j]))
	for r := range out {
		out[r] = append([]map[string]interface{}(nil), perTreat[j][r]...)
	}
	return out, nil
}

// Fit runs cross-fitting for every repetition and treatment, solves for the
// causal parameters and estimates their standard errors.
func (d *DoubleML) Fit(ctx context.Context) error {
	start := time.Now()
	d.invalidate()
	if d.cfg.nonlinear && d.data.IsClustered() {
		return errors.NewNotImplementedError("estimation with clustering for nonlinear scores")
	}

	d.logger.Info("fit started",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, d.data.N(),
		log.FeaturesKey, d.data.NCovariates(),
		log.TreatmentsKey, d.data.NTreat(),
		log.ProcedureKey, string(d.cfg.procedure),
		log.ScoreNameKey, d.cfg.score,
		log.NFoldsKey, d.partition.NFolds(),
		log.NRepKey, d.partition.NRep(),
		log.RandomSeedKey, d.cfg.seed,
		log.WorkersKey, d.pool.NJobs(),
	)

	nRep, nTreat := d.partition.NRep(), d.data.NTreat()
	est := &Estimate{
		Coef:       make([]float64, nTreat),
		SE:         make([]float64, nTreat),
		AllCoef:    make([][]float64, nTreat),
		AllSE:      make([][]float64, nTreat),
		AllDMLCoef: make([][][]float64, nTreat),
		Psi:        make([][][]float64, nRep),
		PsiDeriv:   make([][][]float64, nRep),
	}
	for j := 0; j < nTreat; j++ {
		est.AllCoef[j] = make([]float64, nRep)
		est.AllSE[j] = make([]float64, nRep)
		est.AllDMLCoef[j] = make([][]float64, nRep)
	}
	preds := make([][]map[string][]float64, nRep)
	elements := make([][]ScoreElements, nRep)

	for r := 0; r < nRep; r++ {
		folds := d.partition[r]
		testInds := testIndices(folds)
		preds[r] = make([]map[string][]float64, nTreat)
		elements[r] = make([]ScoreElements, nTreat)
		est.Psi[r] = make([][]float64, nTreat)
		est.PsiDeriv[r] = make([][]float64, nTreat)

		for j := 0; j < nTreat; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			job := d.newJob(ctx, r, j)
			el, p, err := d.model.estimate(job)
			if err != nil {
				d.logFailure(err, r, j)
				return err
			}
			if err := validateScoreElements(el, d.data.N(), folds, d.data.dCols[j], r); err != nil {
				d.logFailure(err, r, j)
				return err
			}

			lin := NewLinearScore(el)
			var score NonlinearScore = lin
			if d.cfg.nonlinear {
				score = lin.WithBounds(d.cfg.lower, d.cfg.upper, d.cfg.init)
			}
			theta, foldCoefs, err := d.solve(lin, score, folds, testInds, r)
			if err != nil {
				d.logFailure(err, r, j)
				return err
			}

			psi := scatter(score.Evaluate(theta, testInds), testInds, d.data.N())
			psiDeriv := scatter(score.Derivative(theta, testInds), testInds, d.data.N())
			variance, err := d.variance(psi, psiDeriv, folds, testInds, r)
			if err != nil {
				d.logFailure(err, r, j)
				return err
			}

			est.AllCoef[j][r] = theta
			est.AllSE[j][r] = math.Sqrt(variance)
			est.AllDMLCoef[j][r] = foldCoefs
			est.Psi[r][j] = psi
			est.PsiDeriv[r][j] = psiDeriv
			preds[r][j] = p
			elements[r][j] = el

			d.logger.Debug("repetition estimated",
				log.RepKey, r,
				log.TreatmentKey, d.data.dCols[j],
				log.CoefKey, theta,
				log.SEKey, est.AllSE[j][r],
			)
		}
	}

	for j := 0; j < nTreat; j++ {
		theta, se, err := aggregateRepetitions(est.AllCoef[j], est.AllSE[j])
		if err != nil {
			return err
		}
		est.Coef[j], est.SE[j] = theta, se
	}

	d.est = est
	d.preds = preds
	d.elements = elements
	d.state.SetDimensions(d.data.NCovariates(), d.data.N())
	d.state.SetFitted()

	d.logger.Info("fit finished",
		log.OperationKey, log.OperationFit,
		log.CoefKey, est.Coef,
		log.SEKey, est.SE,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (d *DoubleML) logFailure(err error, rep, treat int) {
	d.logger.Error("fit failed", err,
		log.RepKey, rep,
		log.TreatmentKey, d.data.dCols[treat],
	)
}

func (d *DoubleML) newJob(ctx context.Context, rep, treat int) *nuisanceJob {
	return &nuisanceJob{
		ctx:    ctx,
		pool:   d.pool,
		logger: d.logger.With(log.RepKey, rep, log.TreatmentKey, d.data.dCols[treat]),
		data:   d.data,
		cfg:    &d.cfg,
		treat:  treat,
		rep:    rep,
		folds:  d.partition[rep],
		x:      d.data.XForTreatment(treat),
		y:      d.data.Y(),
		d:      d.data.D(treat),
		params: func(learner string) []map[string]interface{} {
			perTreat, ok := d.params[learner]
			if !ok {
				return nil
			}
			return perTreat[treat][rep]
		},
	}
}

func (d *DoubleML) solve(lin *LinearScore, score NonlinearScore, folds []msel.Fold, testInds []int, rep int) (float64, []float64, error) {
	solveOn := func(inds []int, fold int) (float64, error) {
		if d.cfg.nonlinear {
			return SolveRoot(score, inds, rep, fold)
		}
		return lin.Solve(inds, rep, fold)
	}

	if d.cfg.procedure == DML1 {
		foldCoefs := make([]float64, len(folds))
		sum := 0.0
		for k, f := range folds {
			theta, err := solveOn(f.Test, k)
			if err != nil {
				return nan, nil, err
			}
			foldCoefs[k] = theta
			sum += theta
		}
		return sum / float64(len(folds)), foldCoefs, nil
	}
	theta, err := solveOn(testInds, -1)
	return theta, nil, err
}

func (d *DoubleML) variance(psi, psiDeriv []float64, folds []msel.Fold, testInds []int, rep int) (float64, error) {
	var v float64
	switch {
	case d.data.IsClustered():
		var err error
		v, err = clusterVariance(psi, psiDeriv, d.data.cluster, folds, d.clusterPartition[rep])
		if err != nil {
			return nan, err
		}
	case d.cfg.procedure == DML1:
		v = foldVariance(psi, psiDeriv, folds, len(testInds))
	default:
		v = pooledVariance(psi, psiDeriv, testInds, len(testInds))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nan, errors.NewNumericalInstabilityErrorWithContext("variance", []float64{v}, rep,
			map[string]interface{}{"procedure": string(d.cfg.procedure)})
	}
	return v, nil
}

func scatter(values []float64, inds []int, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = nan
	}
	for k, i := range inds {
		out[i] = values[k]
	}
	return out
}

// Bootstrap draws nRepBoot multiplier bootstrap replications per repetition.
// Repetition r draws its weights from PCG(seed, r); the weights are shared
// by all treatments.
func (d *DoubleML) Bootstrap(ctx context.Context, method string, nRepBoot int) (*BootstrapResult, error) {
	if err := d.state.RequireFitted(d.model.modelName(), "Bootstrap"); err != nil {
		return nil, err
	}
	if d.data.IsClustered() {
		return nil, errors.NewNotImplementedError("multiplier bootstrap for clustered data")
	}
	m, err := ParseBootstrapMethod(method)
	if err != nil {
		return nil, err
	}
	if nRepBoot < 1 {
		return nil, errors.NewValidationError("n_rep_boot", "must be at least 1", nRepBoot)
	}
	start := time.Now()

	nRep, nTreat := d.partition.NRep(), d.data.NTreat()
	res := &BootstrapResult{
		Method:   m,
		NRepBoot: nRepBoot,
		Seed:     d.cfg.seed,
		Coef:     make([][][]float64, nTreat),
		TStat:    make([][][]float64, nTreat),
	}
	for j := 0; j < nTreat; j++ {
		res.Coef[j] = make([][]float64, nRepBoot)
		res.TStat[j] = make([][]float64, nRepBoot)
		for b := 0; b < nRepBoot; b++ {
			res.Coef[j][b] = make([]float64, nRep)
			res.TStat[j][b] = make([]float64, nRep)
		}
	}

	for r := 0; r < nRep; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		folds := d.partition[r]
		testInds := testIndices(folds)
		weights, err := DrawWeights(m, nRepBoot, len(testInds), bootstrapSource(d.cfg.seed, r))
		if err != nil {
			return nil, err
		}
		for j := 0; j < nTreat; j++ {
			coef, tstat := bootstrapDraws(weights, d.est.Psi[r][j], d.est.PsiDeriv[r][j], folds, testInds,
				d.cfg.procedure, d.est.AllSE[j][r], d.pool.NJobs())
			for b := 0; b < nRepBoot; b++ {
				res.Coef[j][b][r] = coef[b]
				res.TStat[j][b][r] = tstat[b]
			}
		}
	}
	d.boot = res

	d.logger.Info("bootstrap finished",
		log.OperationKey, log.OperationBootstrap,
		log.BootMethodKey, string(m),
		log.BootNRepKey, nRepBoot,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Estimate returns a copy of the fitted estimates.
func (d *DoubleML) Estimate() (*Estimate, error) {
	if err := d.state.RequireFitted(d.model.modelName(), "Estimate"); err != nil {
		return nil, err
	}
	e := d.est
	out := &Estimate{
		Coef:       append([]float64(nil), e.Coef...),
		SE:         append([]float64(nil), e.SE...),
		AllCoef:    copy2(e.AllCoef),
		AllSE:      copy2(e.AllSE),
		AllDMLCoef: make([][][]float64, len(e.AllDMLCoef)),
		Psi:        make([][][]float64, len(e.Psi)),
		PsiDeriv:   make([][][]float64, len(e.PsiDeriv)),
	}
	for j := range e.AllDMLCoef {
		out.AllDMLCoef[j] = copy2(e.AllDMLCoef[j])
	}
	for r := range e.Psi {
		out.Psi[r] = copy2(e.Psi[r])
		out.PsiDeriv[r] = copy2(e.PsiDeriv[r])
	}
	return out, nil
}

func copy2(v [][]float64) [][]float64 {
	out := make([][]float64, len(v))
	for i := range v {
		if v[i] != nil {
			out[i] = append([]float64(nil), v[i]...)
		}
	}
	return out
}

// Coef returns the estimated causal parameter of every treatment.
func (d *DoubleML) Coef() ([]float64, error) {
	if err := d.state.RequireFitted(d.model.modelName(), "Coef"); err != nil {
		return nil, err
	}
	return append([]float64(nil), d.est.Coef...), nil
}

// SE returns the standard errors.
func (d *DoubleML) SE() ([]float64, error) {
	if err := d.state.RequireFitted(d.model.modelName(), "SE"); err != nil {
		return nil, err
	}
	return append([]float64(nil), d.est.SE...), nil
}

// Predictions returns the cross-fitted nuisance predictions, [rep][treatment]
// keyed by learner name.
func (d *DoubleML) Predictions() ([][]map[string][]float64, error) {
	if err := d.state.RequireFitted(d.model.modelName(), "Predictions"); err != nil {
		return nil, err
	}
	out := make([][]map[string][]float64, len(d.preds))
	for r := range d.preds {
		out[r] = make([]map[string][]float64, len(d.preds[r]))
		for j, m := range d.preds[r] {
			out[r][j] = make(map[string][]float64, len(m))
			for k, v := range m {
				out[r][j][k] = append([]float64(nil), v...)
			}
		}
	}
	return out, nil
}

// ScoreElements returns the score elements, [rep][treatment].
func (d *DoubleML) ScoreElements() ([][]ScoreElements, error) {
	if err := d.state.RequireFitted(d.model.modelName(), "ScoreElements"); err != nil {
		return nil, err
	}
	out := make([][]ScoreElements, len(d.elements))
	for r := range d.elements {
		out[r] = make([]ScoreElements, len(d.elements[r]))
		for j, el := range d.elements[r] {
			out[r][j] = el.clone()
		}
	}
	return out, nil
}

// BootstrapResult returns the last bootstrap run.
func (d *DoubleML) BootstrapResult() (*BootstrapResult, error) {
	if d.boot == nil {
		return nil, errors.NewNotFittedError(d.model.modelName(), "BootstrapResult")
	}
	return d.boot, nil
}

// nuisanceJob is the input of one (repetition, treatment) nuisance estimation.
type nuisanceJob struct {
	ctx    context.Context
	pool   *parallel.Pool
	logger log.Logger
	data   *Data
	cfg    *config
	treat  int
	rep    int
	folds  []msel.Fold
	x      *mat.Dense
	y, d   []float64
	params func(learner string) []map[string]interface{}
}

func (j *nuisanceJob) treatName() string { return j.data.dCols[j.treat] }

// predict cross-fits l on (x, target) and checks the test-row predictions.
func (j *nuisanceJob) predict(name string, l model.Learner, x mat.Matrix, target []float64, mask []bool) ([]float64, error) {
	opts := []CVOption{WithCVLogger(j.logger, name)}
	if mask != nil {
		opts = append(opts, WithTrainMask(mask))
	}
	preds, err := CrossValPredict(j.ctx, j.pool, l, x, target, j.folds, predictMethodFor(l), j.params(name), opts...)
	if err != nil {
		return nil, err
	}
	if err := CheckFinitePredictions(preds, name, j.treatName(), j.rep, j.folds); err != nil {
		return nil, err
	}
	return preds, nil
}

func learnerNames(m nuisanceModel) []string {
	names := make([]string, 0)
	for name := range m.learners() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

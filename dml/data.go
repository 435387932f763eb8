package dml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Data は DML 推定に使う観測データのコンテナ。構築後は変更されない。
//
// y は結果変数 (n)、d は処理変数 (n × nTreat)、x は共変量 (n × p)、
// z は操作変数 (n × nInstr, 任意)、cluster はクラスタ ID (n × 1 または n × 2, 任意)。
type Data struct {
	y       []float64
	d       *mat.Dense
	x       *mat.Dense
	z       *mat.Dense
	cluster *mat.Dense

	yCol        string
	dCols       []string
	xCols       []string
	zCols       []string
	clusterCols []string

	useOtherTreatAsCovariate bool
}

// DataOption configures optional parts of Data.
type DataOption func(*Data)

// WithInstruments sets the instrumental variables (n × nInstr).
func WithInstruments(z *mat.Dense) DataOption {
	return func(d *Data) { d.z = z }
}

// WithClusters sets one or two integer-valued cluster id columns.
func WithClusters(cluster *mat.Dense) DataOption {
	return func(d *Data) { d.cluster = cluster }
}

// WithColumnNames overrides the default column names ("y", "d1".., "X1".., "z1"..).
// A nil slice keeps the defaults for that block.
func WithColumnNames(y string, d, x, z []string) DataOption {
	return func(data *Data) {
		if y != "" {
			data.yCol = y
		}
		if d != nil {
			data.dCols = append([]string(nil), d...)
		}
		if x != nil {
			data.xCols = append([]string(nil), x...)
		}
		if z != nil {
			data.zCols = append([]string(nil), z...)
		}
	}
}

// WithClusterNames sets the cluster column names.
func WithClusterNames(names []string) DataOption {
	return func(d *Data) { d.clusterCols = append([]string(nil), names...) }
}

// WithUseOtherTreatAsCovariate controls whether, for a model with several
// treatments, the other treatment columns are added to the covariates when
// the effect of one treatment is estimated. Default true.
func WithUseOtherTreatAsCovariate(use bool) DataOption {
	return func(d *Data) { d.useOtherTreatAsCovariate = use }
}

// NewData validates and copies the inputs.
// 行数の不一致は DimensionError、空データや非有限値は ValidationError を返す。
func NewData(y []float64, d, x *mat.Dense, opts ...DataOption) (*Data, error) {
	n := len(y)
	if n == 0 {
		return nil, errors.NewValidationError("y", "must contain at least one observation", n)
	}
	if d == nil || x == nil {
		return nil, errors.NewValidationError("d/x", "treatment and covariate matrices are required", nil)
	}

	data := &Data{
		y:                        append([]float64(nil), y...),
		d:                        mat.DenseCopyOf(d),
		x:                        mat.DenseCopyOf(x),
		yCol:                     "y",
		useOtherTreatAsCovariate: true,
	}
	for _, opt := range opts {
		opt(data)
	}
	if data.z != nil {
		data.z = mat.DenseCopyOf(data.z)
	}
	if data.cluster != nil {
		data.cluster = mat.DenseCopyOf(data.cluster)
	}

	if err := data.validate(); err != nil {
		return nil, err
	}
	data.fillDefaultNames()
	return data, nil
}

func (data *Data) validate() error {
	n := len(data.y)
	blocks := []struct {
		name string
		m    *mat.Dense
		axis int
	}{
		{"d", data.d, 0},
		{"x", data.x, 0},
		{"z", data.z, 0},
		{"cluster", data.cluster, 0},
	}
	for _, b := range blocks {
		if b.m == nil {
			continue
		}
		r, c := b.m.Dims()
		if r != n {
			return errors.NewDimensionError("NewData("+b.name+")", n, r, b.axis)
		}
		if c == 0 {
			return errors.NewValidationError(b.name, "must have at least one column", c)
		}
		if nBad := countNonFiniteMatrix(b.m); nBad > 0 {
			return errors.NewValidationError(b.name, "contains NaN or Inf", nBad)
		}
	}
	if nBad := errors.CountNonFinite(data.y, nil); nBad > 0 {
		return errors.NewValidationError("y", "contains NaN or Inf", nBad)
	}

	if data.cluster != nil {
		_, c := data.cluster.Dims()
		if c > 2 {
			return errors.NewValidationError("cluster", "only one- or two-way clustering is supported", c)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < c; j++ {
				v := data.cluster.At(i, j)
				if v != math.Trunc(v) {
					return errors.NewValidationError("cluster", "cluster ids must be integer-valued", v)
				}
			}
		}
	}

	checkNames := func(param string, names []string, want int) error {
		if names != nil && len(names) != want {
			return errors.NewDimensionError("NewData("+param+")", want, len(names), 1)
		}
		return nil
	}
	_, nTreat := data.d.Dims()
	_, nX := data.x.Dims()
	if err := checkNames("d names", data.dCols, nTreat); err != nil {
		return err
	}
	if err := checkNames("x names", data.xCols, nX); err != nil {
		return err
	}
	if data.z != nil {
		_, nZ := data.z.Dims()
		if err := checkNames("z names", data.zCols, nZ); err != nil {
			return err
		}
	}
	if data.cluster != nil {
		_, nC := data.cluster.Dims()
		if err := checkNames("cluster names", data.clusterCols, nC); err != nil {
			return err
		}
	}
	return nil
}

func (data *Data) fillDefaultNames() {
	gen := func(prefix string, k int) []string {
		out := make([]string, k)
		for i := range out {
			out[i] = fmt.Sprintf("%s%d", prefix, i+1)
		}
		return out
	}
	if data.dCols == nil {
		data.dCols = gen("d", data.NTreat())
	}
	if data.xCols == nil {
		_, p := data.x.Dims()
		data.xCols = gen("X", p)
	}
	if data.z != nil && data.zCols == nil {
		data.zCols = gen("z", data.NInstr())
	}
	if data.cluster != nil && data.clusterCols == nil {
		data.clusterCols = gen("cluster", data.NClusterVars())
	}
}

func countNonFiniteMatrix(m *mat.Dense) int {
	r, _ := m.Dims()
	nBad := 0
	for i := 0; i < r; i++ {
		nBad += errors.CountNonFinite(m.RawRowView(i), nil)
	}
	return nBad
}

// N returns the number of observations.
func (data *Data) N() int { return len(data.y) }

// NTreat returns the number of treatment variables.
func (data *Data) NTreat() int {
	_, c := data.d.Dims()
	return c
}

// NCovariates returns the number of covariate columns.
func (data *Data) NCovariates() int {
	_, c := data.x.Dims()
	return c
}

// NInstr returns the number of instruments (0 when none are set).
func (data *Data) NInstr() int {
	if data.z == nil {
		return 0
	}
	_, c := data.z.Dims()
	return c
}

// NClusterVars returns the number of cluster variables (0, 1 or 2).
func (data *Data) NClusterVars() int {
	if data.cluster == nil {
		return 0
	}
	_, c := data.cluster.Dims()
	return c
}

// IsClustered reports whether cluster ids were supplied.
func (data *Data) IsClustered() bool { return data.cluster != nil }

// Y returns a copy of the outcome.
func (data *Data) Y() []float64 { return append([]float64(nil), data.y...) }

// D returns a copy of treatment column j.
func (data *Data) D(j int) []float64 { return mat.Col(nil, j, data.d) }

// Z returns a copy of instrument column j.
func (data *Data) Z(j int) []float64 { return mat.Col(nil, j, data.z) }

// X returns a copy of the covariates.
func (data *Data) X() *mat.Dense { return mat.DenseCopyOf(data.x) }

// ZMatrix returns a copy of the instruments, or nil.
func (data *Data) ZMatrix() *mat.Dense {
	if data.z == nil {
		return nil
	}
	return mat.DenseCopyOf(data.z)
}

// Cluster returns a copy of the cluster ids, or nil.
func (data *Data) Cluster() *mat.Dense {
	if data.cluster == nil {
		return nil
	}
	return mat.DenseCopyOf(data.cluster)
}

// YCol returns the outcome name.
func (data *Data) YCol() string { return data.yCol }

// DCols returns the treatment names.
func (data *Data) DCols() []string { return append([]string(nil), data.dCols...) }

// XCols returns the covariate names.
func (data *Data) XCols() []string { return append([]string(nil), data.xCols...) }

// ZCols returns the instrument names.
func (data *Data) ZCols() []string { return append([]string(nil), data.zCols...) }

// ClusterCols returns the cluster variable names.
func (data *Data) ClusterCols() []string { return append([]string(nil), data.clusterCols...) }

// XForTreatment returns the covariates used when estimating the effect of
// treatment j: x, followed by the other treatment columns when
// useOtherTreatAsCovariate is set.
func (data *Data) XForTreatment(j int) *mat.Dense {
	n, p := data.x.Dims()
	nTreat := data.NTreat()
	if !data.useOtherTreatAsCovariate || nTreat == 1 {
		return mat.DenseCopyOf(data.x)
	}
	out := mat.NewDense(n, p+nTreat-1, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		copy(row, data.x.RawRowView(i))
		c := p
		for k := 0; k < nTreat; k++ {
			if k == j {
				continue
			}
			row[c] = data.d.At(i, k)
			c++
		}
	}
	return out
}

// XZ returns [x_j | z], the covariates for treatment j followed by the instruments.
func (data *Data) XZ(j int) *mat.Dense {
	x := data.XForTreatment(j)
	if data.z == nil {
		return x
	}
	n, p := x.Dims()
	nz := data.NInstr()
	out := mat.NewDense(n, p+nz, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		copy(row, x.RawRowView(i))
		copy(row[p:], data.z.RawRowView(i))
	}
	return out
}

func isBinary(values []float64) bool {
	for _, v := range values {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

package datasets

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/causalgo/dml"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// streamID は生成器が使う PCG のストリーム番号です。
const streamID = 0xda7a

// Simulation is one synthetic sample together with its true effect.
type Simulation struct {
	Y       []float64
	D       *mat.Dense
	X       *mat.Dense
	Z       *mat.Dense // nil without instruments
	Cluster *mat.Dense // nil without clusters
	Theta   float64
}

// Data wraps the simulation into a dml.Data.
func (s *Simulation) Data(opts ...dml.DataOption) (*dml.Data, error) {
	all := make([]dml.DataOption, 0, len(opts)+2)
	if s.Z != nil {
		all = append(all, dml.WithInstruments(s.Z))
	}
	if s.Cluster != nil {
		all = append(all, dml.WithClusters(s.Cluster))
	}
	return dml.NewData(s.Y, s.D, s.X, append(all, opts...)...)
}

// FirstClusterOnly drops every cluster variable but the first.
func (s *Simulation) FirstClusterOnly() {
	if s.Cluster == nil {
		return
	}
	n, _ := s.Cluster.Dims()
	s.Cluster = mat.DenseCopyOf(s.Cluster.Slice(0, n, 0, 1))
}

// toeplitz returns Σ with Σ_jk = rho^|j-k|.
func toeplitz(dim int, rho float64) *mat.SymDense {
	sigma := mat.NewSymDense(dim, nil)
	for j := 0; j < dim; j++ {
		for k := j; k < dim; k++ {
			sigma.SetSym(j, k, math.Pow(rho, float64(k-j)))
		}
	}
	return sigma
}

func newNormal(dim int, sigma *mat.SymDense, src rand.Source) (*distmv.Normal, error) {
	normal, ok := distmv.NewNormal(make([]float64, dim), sigma, src)
	if !ok {
		return nil, errors.NewValueError("datasets", "covariance is not positive definite")
	}
	return normal, nil
}

// drawRows fills an n × dim matrix with independent draws of normal.
func drawRows(normal *distmv.Normal, n, dim int) *mat.Dense {
	out := mat.NewDense(n, dim, nil)
	row := make([]float64, dim)
	for i := 0; i < n; i++ {
		normal.Rand(row)
		out.SetRow(i, row)
	}
	return out
}

func sigmoid(t float64) float64 { return 1 / (1 + math.Exp(-t)) }

// invSquares returns β_k = 1/k² for k = 1..dim.
func invSquares(dim int) []float64 {
	b := make([]float64, dim)
	for k := range b {
		b[k] = 1 / float64((k+1)*(k+1))
	}
	return b
}

func dot(x *mat.Dense, i int, beta []float64) float64 {
	s := 0.0
	for k, b := range beta {
		s += x.At(i, k) * b
	}
	return s
}

func checkSize(n, dimX, minDim int) error {
	if n < 1 {
		return errors.NewValidationError("n", "must be positive", n)
	}
	if dimX < minDim {
		return errors.NewValidationError("dimX", "too few covariates for this design", dimX)
	}
	return nil
}

// MakePLR draws from the partially linear model
//
//	d = x₀ + 0.25·σ(x₂) + v,  y = θ·d + σ(x₀) + 0.25·x₂ + ζ
//
// with x ~ N(0, Σ), Σ_jk = 0.7^|j-k|, and standard normal v, ζ.
func MakePLR(n, dimX int, theta float64, seed int64) (*Simulation, error) {
	if err := checkSize(n, dimX, 3); err != nil {
		return nil, err
	}
	src := rand.NewPCG(uint64(seed), streamID)
	normal, err := newNormal(dimX, toeplitz(dimX, 0.7), src)
	if err != nil {
		return nil, err
	}
	x := drawRows(normal, n, dimX)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	y := make([]float64, n)
	d := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		di := x.At(i, 0) + 0.25*sigmoid(x.At(i, 2)) + noise.Rand()
		d.Set(i, 0, di)
		y[i] = theta*di + sigmoid(x.At(i, 0)) + 0.25*x.At(i, 2) + noise.Rand()
	}
	return &Simulation{Y: y, D: d, X: x, Theta: theta}, nil
}

// MakePLIV draws an endogenous treatment with dimZ excluded instruments:
//
//	z_k = x_k + ξ_k,  d = x'γ + Σ_k z_k + u,  y = θ·d + x'β + ε
//
// with β_k = γ_k = 1/k², x ~ N(0, Σ), Σ_jk = 0.5^|j-k|, and corr(ε, u) = 0.6.
func MakePLIV(n, dimX, dimZ int, theta float64, seed int64) (*Simulation, error) {
	if err := checkSize(n, dimX, 1); err != nil {
		return nil, err
	}
	if dimZ < 1 || dimZ > dimX {
		return nil, errors.NewValidationError("dimZ", "must be in [1, dimX]", dimZ)
	}
	src := rand.NewPCG(uint64(seed), streamID)
	xNormal, err := newNormal(dimX, toeplitz(dimX, 0.5), src)
	if err != nil {
		return nil, err
	}
	errNormal, err := newNormal(2, mat.NewSymDense(2, []float64{1, 0.6, 0.6, 1}), src)
	if err != nil {
		return nil, err
	}
	x := drawRows(xNormal, n, dimX)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	beta := invSquares(dimX)

	y := make([]float64, n)
	d := mat.NewDense(n, 1, nil)
	z := mat.NewDense(n, dimZ, nil)
	e := make([]float64, 2)
	for i := 0; i < n; i++ {
		errNormal.Rand(e)
		xb := dot(x, i, beta)
		di := xb + e[1]
		for k := 0; k < dimZ; k++ {
			zk := x.At(i, k) + noise.Rand()
			z.Set(i, k, zk)
			di += zk
		}
		d.Set(i, 0, di)
		y[i] = theta*di + xb + e[0]
	}
	return &Simulation{Y: y, D: d, X: x, Z: z, Theta: theta}, nil
}

// MakeIIVM draws a binary treatment with one-sided noncompliance driven by a
// randomised binary instrument:
//
//	z ~ Bernoulli(0.5),  d = 1{alphaX·z + v > 0},  y = θ·d + x'β + u
//
// with β_k = 1/k², x ~ N(0, Σ), Σ_jk = 0.5^|j-k|, and corr(u, v) = 0.3.
func MakeIIVM(n, dimX int, theta, alphaX float64, seed int64) (*Simulation, error) {
	if err := checkSize(n, dimX, 1); err != nil {
		return nil, err
	}
	src := rand.NewPCG(uint64(seed), streamID)
	xNormal, err := newNormal(dimX, toeplitz(dimX, 0.5), src)
	if err != nil {
		return nil, err
	}
	errNormal, err := newNormal(2, mat.NewSymDense(2, []float64{1, 0.3, 0.3, 1}), src)
	if err != nil {
		return nil, err
	}
	x := drawRows(xNormal, n, dimX)
	coin := distuv.Bernoulli{P: 0.5, Src: src}
	beta := invSquares(dimX)

	y := make([]float64, n)
	d := mat.NewDense(n, 1, nil)
	z := mat.NewDense(n, 1, nil)
	e := make([]float64, 2)
	for i := 0; i < n; i++ {
		errNormal.Rand(e)
		zi := coin.Rand()
		z.Set(i, 0, zi)
		di := 0.0
		if alphaX*zi+e[1] > 0 {
			di = 1
		}
		d.Set(i, 0, di)
		y[i] = theta*di + dot(x, i, beta) + e[0]
	}
	return &Simulation{Y: y, D: d, X: x, Z: z, Theta: theta}, nil
}

// clusterWeights は (行ショック, 列ショック, 個別ショック) の重みです。
var clusterWeights = [3]float64{0.25, 0.25, 0.5}

// MakePLIVMultiwayCluster draws n1·n2 observations on a grid of two crossed
// cluster variables. Covariates, the instrument and the structural errors
// each combine a shock shared by the row cluster, one shared by the column
// cluster and an idiosyncratic term:
//
//	z = x'π + η,  d = x'π + z + v,  y = θ·d + x'β + ε
//
// with π_k = β_k = 1/k² and corr(ε, v) = 0.6 in every component. The cluster
// matrix has the row id in column 0 and the column id in column 1.
func MakePLIVMultiwayCluster(n1, n2, dimX int, theta float64, seed int64) (*Simulation, error) {
	if n1 < 2 || n2 < 2 {
		return nil, errors.NewValidationError("n1, n2", "need at least two clusters per dimension", [2]int{n1, n2})
	}
	if err := checkSize(n1*n2, dimX, 1); err != nil {
		return nil, err
	}
	src := rand.NewPCG(uint64(seed), streamID)
	xNormal, err := newNormal(dimX, toeplitz(dimX, 0.7), src)
	if err != nil {
		return nil, err
	}
	errNormal, err := newNormal(2, mat.NewSymDense(2, []float64{1, 0.6, 0.6, 1}), src)
	if err != nil {
		return nil, err
	}
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	xRow, xCol := drawRows(xNormal, n1, dimX), drawRows(xNormal, n2, dimX)
	eRow, eCol := drawRows(errNormal, n1, 2), drawRows(errNormal, n2, 2)
	zRow, zCol := make([]float64, n1), make([]float64, n2)
	for i := range zRow {
		zRow[i] = noise.Rand()
	}
	for j := range zCol {
		zCol[j] = noise.Rand()
	}

	n := n1 * n2
	w := clusterWeights
	beta := invSquares(dimX)
	x := mat.NewDense(n, dimX, nil)
	d := mat.NewDense(n, 1, nil)
	z := mat.NewDense(n, 1, nil)
	cl := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	xe := make([]float64, dimX)
	ee := make([]float64, 2)
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			o := i*n2 + j
			cl.Set(o, 0, float64(i))
			cl.Set(o, 1, float64(j))

			xNormal.Rand(xe)
			for k := 0; k < dimX; k++ {
				x.Set(o, k, w[0]*xRow.At(i, k)+w[1]*xCol.At(j, k)+w[2]*xe[k])
			}
			errNormal.Rand(ee)
			eps := w[0]*eRow.At(i, 0) + w[1]*eCol.At(j, 0) + w[2]*ee[0]
			v := w[0]*eRow.At(i, 1) + w[1]*eCol.At(j, 1) + w[2]*ee[1]

			xb := dot(x, o, beta)
			zo := xb + w[0]*zRow[i] + w[1]*zCol[j] + w[2]*noise.Rand()
			z.Set(o, 0, zo)
			do := xb + zo + v
			d.Set(o, 0, do)
			y[o] = theta*do + xb + eps
		}
	}
	return &Simulation{Y: y, D: d, X: x, Z: z, Cluster: cl, Theta: theta}, nil
}

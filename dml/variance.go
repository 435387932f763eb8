package dml

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	msel "github.com/YuminosukeSato/causalgo/model_selection"
	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// pooledVariance is sigma² = mean(psi²) / mean(psi_deriv)² / n over inds.
func pooledVariance(psi, psiDeriv []float64, inds []int, n int) float64 {
	j := meanAt(psiDeriv, inds)
	return meanSquareAt(psi, inds) / (j * j) / float64(n)
}

// foldVariance is the DML1 form: the per-fold terms
// mean_k(psi²) / mean_k(psi_deriv)² / n averaged over folds.
// n is the number of distinct test observations of the repetition.
func foldVariance(psi, psiDeriv []float64, folds []msel.Fold, n int) float64 {
	sum := 0.0
	for _, f := range folds {
		j := meanAt(psiDeriv, f.Test)
		sum += meanSquareAt(psi, f.Test) / (j * j) / float64(n)
	}
	return sum / float64(len(folds))
}

func meanSquareAt(v []float64, inds []int) float64 {
	sum := 0.0
	for _, i := range inds {
		sum += v[i] * v[i]
	}
	return sum / float64(len(inds))
}

// clusterVariance is the one- or two-way cluster-robust variance.
//
// One-way: gamma = 1/K Σ_k 1/|I_k| Σ_{c ∈ I_k} (Σ_{i ∈ c} psi_i)²,
// J = 1/K Σ_k Σ_{test_k} psi_deriv / |I_k|, sigma² = gamma / J² / N₁.
//
// Two-way: cells (I_k, J_l) with const = min(|I_k|, |J_l|) / (|I_k||J_l|)²,
// the squared sums run over the rows of the first and the columns of the
// second cluster variable restricted to the cell, J divides by |I_k||J_l|,
// and the scaling is min(N₁, N₂).
func clusterVariance(psi, psiDeriv []float64, cluster *mat.Dense, folds []msel.Fold, cfolds []msel.ClusterFold) (float64, error) {
	if len(folds) != len(cfolds) {
		return nan, errors.NewDimensionError("clusterVariance", len(folds), len(cfolds), 0)
	}
	_, nVars := cluster.Dims()
	ids := make([][]float64, nVars)
	nClusters := make([]int, nVars)
	for j := 0; j < nVars; j++ {
		ids[j] = mat.Col(nil, j, cluster)
		nClusters[j] = len(uniqueValues(ids[j]))
	}

	gamma, jHat := 0.0, 0.0
	for k, f := range folds {
		iK := cfolds[k].Test[0]
		if nVars == 1 {
			sums := clusterSums(psi, f.Test, ids[0])
			for _, c := range iK {
				s := sums[c]
				gamma += s * s / float64(len(iK))
			}
			jHat += sumAt(psiDeriv, f.Test) / float64(len(iK))
			continue
		}

		jL := cfolds[k].Test[1]
		nI, nJ := float64(len(iK)), float64(len(jL))
		c := math.Min(nI, nJ) / math.Pow(nI*nJ, 2)
		// f.Test は (I_k, J_l) セルの観測
		rowSums := clusterSums(psi, f.Test, ids[0])
		colSums := clusterSums(psi, f.Test, ids[1])
		for _, id := range iK {
			s := rowSums[id]
			gamma += c * s * s
		}
		for _, id := range jL {
			s := colSums[id]
			gamma += c * s * s
		}
		jHat += sumAt(psiDeriv, f.Test) / (nI * nJ)
	}
	kTotal := float64(len(folds))
	gamma /= kTotal
	jHat /= kTotal
	if jHat == 0 {
		return nan, errors.NewNumericalInstabilityError("cluster variance", []float64{jHat}, 0)
	}

	scaling := nClusters[0]
	if nVars == 2 && nClusters[1] < scaling {
		scaling = nClusters[1]
	}
	return gamma / (jHat * jHat) / float64(scaling), nil
}

// clusterSums sums psi over inds grouped by cluster id. Callers read the
// map in the order of the sorted cluster ids so sums stay deterministic.
func clusterSums(psi []float64, inds []int, ids []float64) map[float64]float64 {
	out := make(map[float64]float64)
	for _, i := range inds {
		out[ids[i]] += psi[i]
	}
	return out
}

func sumAt(v []float64, inds []int) float64 {
	sum := 0.0
	for _, i := range inds {
		sum += v[i]
	}
	return sum
}

func uniqueValues(v []float64) map[float64]struct{} {
	out := make(map[float64]struct{}, len(v))
	for _, x := range v {
		out[x] = struct{}{}
	}
	return out
}

// aggregateRepetitions combines per-repetition estimates:
// θ = median(θ_r), se = sqrt(median(se_r² + (θ_r - θ)²)).
func aggregateRepetitions(coefs, ses []float64) (float64, float64, error) {
	theta, err := stats.Median(stats.Float64Data(coefs))
	if err != nil {
		return nan, nan, errors.Wrap(err, "median of repetition estimates")
	}
	adj := make([]float64, len(coefs))
	for r := range coefs {
		dev := coefs[r] - theta
		adj[r] = ses[r]*ses[r] + dev*dev
	}
	v, err := stats.Median(stats.Float64Data(adj))
	if err != nil {
		return nan, nan, errors.Wrap(err, "median of repetition variances")
	}
	return theta, math.Sqrt(v), nil
}

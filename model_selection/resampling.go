package model_selection

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Partition holds the folds of every cross-fitting repetition, indexed [rep][fold].
// A partition is immutable once drawn and is reused for fitting and bootstrapping.
type Partition [][]Fold

// NRep returns the number of repetitions.
func (p Partition) NRep() int { return len(p) }

// NFolds returns the number of folds of the first repetition.
func (p Partition) NFolds() int {
	if len(p) == 0 {
		return 0
	}
	return len(p[0])
}

// Validate checks that every fold indexes rows in [0, n), that train and
// test of a fold are disjoint and free of duplicates, that test sets within a
// repetition are disjoint, and, when crossFitting is set, that they cover
// every row exactly once. The only fold allowed to overlap is the single
// fold whose train and test are both the full sample.
func (p Partition) Validate(n int, crossFitting bool) error {
	if len(p) == 0 {
		return errors.NewValidationError("sample_splitting", "must contain at least one repetition", 0)
	}
	for r, folds := range p {
		if len(folds) == 0 {
			return errors.NewValidationError("sample_splitting", fmt.Sprintf("repetition %d has no folds", r), 0)
		}
		seen := make([]bool, n)
		covered := 0
		for k, f := range folds {
			if len(f.Train) == 0 || len(f.Test) == 0 {
				return errors.NewValidationError("sample_splitting",
					fmt.Sprintf("fold %d of repetition %d has an empty train or test set", k, r), k)
			}
			for _, idx := range append(append([]int(nil), f.Train...), f.Test...) {
				if idx < 0 || idx >= n {
					return errors.NewValidationError("sample_splitting",
						fmt.Sprintf("index out of range in fold %d of repetition %d", k, r), idx)
				}
			}
			if err := checkFoldDisjoint(f, n, len(folds), r, k); err != nil {
				return err
			}
			for _, idx := range f.Test {
				if seen[idx] && len(folds) > 1 {
					return errors.NewValidationError("sample_splitting",
						fmt.Sprintf("test sets of repetition %d overlap", r), idx)
				}
				if !seen[idx] {
					covered++
				}
				seen[idx] = true
			}
		}
		if crossFitting && covered != n {
			return errors.NewValidationError("sample_splitting",
				fmt.Sprintf("test sets of repetition %d do not cover all %d observations", r, n), covered)
		}
	}
	return nil
}

func checkFoldDisjoint(f Fold, n, nFolds, r, k int) error {
	inTrain := make([]bool, n)
	for _, idx := range f.Train {
		if inTrain[idx] {
			return errors.NewValidationError("sample_splitting",
				fmt.Sprintf("train set of fold %d of repetition %d has duplicate indices", k, r), idx)
		}
		inTrain[idx] = true
	}
	inTest := make([]bool, n)
	for _, idx := range f.Test {
		if inTest[idx] {
			return errors.NewValidationError("sample_splitting",
				fmt.Sprintf("test set of fold %d of repetition %d has duplicate indices", k, r), idx)
		}
		inTest[idx] = true
	}
	// 交差適合なしの全標本フォールド
	if nFolds == 1 && len(f.Train) == n && len(f.Test) == n {
		return nil
	}
	for _, idx := range f.Test {
		if inTrain[idx] {
			return errors.NewValidationError("sample_splitting",
				fmt.Sprintf("train and test of fold %d of repetition %d overlap", k, r), idx)
		}
	}
	return nil
}

// Resampling draws NRep independent k-fold partitions. Repetition r is
// shuffled with seed Seed+r.
//
// Without cross-fitting each repetition has a single fold: with NFolds == 1
// train and test are the full sample; with NFolds >= 2 the first fold of the
// k-fold split is kept. NRep must be 1 in that case.
type Resampling struct {
	NFolds            int
	NRep              int
	ApplyCrossFitting bool
	Seed              int64
}

// Split draws the partition for n observations.
func (rs Resampling) Split(n int) (Partition, error) {
	if rs.NRep < 1 {
		return nil, errors.NewValidationError("n_rep", "must be at least 1", rs.NRep)
	}
	if rs.NFolds < 1 {
		return nil, errors.NewValidationError("n_folds", "must be at least 1", rs.NFolds)
	}
	if rs.ApplyCrossFitting && rs.NFolds < 2 {
		return nil, errors.NewValidationError("n_folds", "must be at least 2 when cross-fitting is applied", rs.NFolds)
	}
	if !rs.ApplyCrossFitting && rs.NRep != 1 {
		return nil, errors.NewValidationError("n_rep", "repeated sample splitting requires cross-fitting", rs.NRep)
	}

	if rs.NFolds == 1 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return Partition{{{Train: all, Test: append([]int(nil), all...)}}}, nil
	}

	partition := make(Partition, rs.NRep)
	for r := 0; r < rs.NRep; r++ {
		kf := NewKFold(rs.NFolds, true, rs.Seed+int64(r))
		folds, err := kf.Split(n)
		if err != nil {
			return nil, err
		}
		if !rs.ApplyCrossFitting {
			folds = folds[:1]
		}
		partition[r] = folds
	}
	return partition, nil
}

// ClusterFold lists, for each cluster variable, the distinct cluster ids in
// the train and test part of one fold.
type ClusterFold struct {
	Train [][]float64
	Test  [][]float64
}

// ClusterPartition is the cluster-level view of a Partition, indexed [rep][fold].
type ClusterPartition [][]ClusterFold

// ClusterResampling splits one- or two-way clustered data so that no cluster
// is shared between train and test of a fold.
//
// For every cluster variable the distinct ids are split with KFold. With one
// variable an observation is in the test set when its cluster is. With two
// variables the folds are the product of both splits (NFolds² folds): an
// observation is in test when both ids are in the respective test sets and
// in train when neither is. Observations in only one are dropped from the fold.
type ClusterResampling struct {
	NFolds int
	NRep   int
	Seed   int64
}

// Split draws the observation partition and its cluster-level counterpart.
// Cluster variable j of repetition r is shuffled with seed Seed+2r+j.
func (cr ClusterResampling) Split(clusters mat.Matrix) (Partition, ClusterPartition, error) {
	n, nVars := clusters.Dims()
	if nVars < 1 || nVars > 2 {
		return nil, nil, errors.NewValidationError("cluster_cols", "only one- or two-way clustering is supported", nVars)
	}
	if cr.NRep < 1 {
		return nil, nil, errors.NewValidationError("n_rep", "must be at least 1", cr.NRep)
	}
	if cr.NFolds < 2 {
		return nil, nil, errors.NewValidationError("n_folds", "must be at least 2", cr.NFolds)
	}

	ids := make([][]float64, nVars)
	uniq := make([][]float64, nVars)
	for j := 0; j < nVars; j++ {
		ids[j] = mat.Col(nil, j, clusters)
		uniq[j] = uniqueSorted(ids[j])
		if len(uniq[j]) < cr.NFolds {
			return nil, nil, errors.NewValidationError("n_folds",
				fmt.Sprintf("cluster variable %d has only %d distinct clusters", j, len(uniq[j])), cr.NFolds)
		}
	}

	partition := make(Partition, cr.NRep)
	clusterPartition := make(ClusterPartition, cr.NRep)
	for r := 0; r < cr.NRep; r++ {
		// testFold[j][id] はクラスタ id がテストに入るフォールド番号
		testFold := make([]map[float64]int, nVars)
		clusterFolds := make([][]Fold, nVars)
		for j := 0; j < nVars; j++ {
			kf := NewKFold(cr.NFolds, true, cr.Seed+2*int64(r)+int64(j))
			folds, err := kf.Split(len(uniq[j]))
			if err != nil {
				return nil, nil, err
			}
			clusterFolds[j] = folds
			testFold[j] = make(map[float64]int, len(uniq[j]))
			for k, f := range folds {
				for _, c := range f.Test {
					testFold[j][uniq[j][c]] = k
				}
			}
		}

		nFoldsTotal := int(math.Pow(float64(cr.NFolds), float64(nVars)))
		folds := make([]Fold, nFoldsTotal)
		cfolds := make([]ClusterFold, nFoldsTotal)
		for f := 0; f < nFoldsTotal; f++ {
			// f = k1*NFolds + k2
			ks := make([]int, nVars)
			rem := f
			for j := nVars - 1; j >= 0; j-- {
				ks[j] = rem % cr.NFolds
				rem /= cr.NFolds
			}

			var train, test []int
			for i := 0; i < n; i++ {
				inTest, inTrain := true, true
				for j := 0; j < nVars; j++ {
					if testFold[j][ids[j][i]] == ks[j] {
						inTrain = false
					} else {
						inTest = false
					}
				}
				if inTest {
					test = append(test, i)
				} else if inTrain {
					train = append(train, i)
				}
			}
			folds[f] = Fold{Train: train, Test: test}

			cf := ClusterFold{Train: make([][]float64, nVars), Test: make([][]float64, nVars)}
			for j := 0; j < nVars; j++ {
				cf.Train[j] = pick(uniq[j], clusterFolds[j][ks[j]].Train)
				cf.Test[j] = pick(uniq[j], clusterFolds[j][ks[j]].Test)
			}
			cfolds[f] = cf
		}
		partition[r] = folds
		clusterPartition[r] = cfolds
	}
	return partition, clusterPartition, nil
}

func uniqueSorted(values []float64) []float64 {
	seen := make(map[float64]struct{}, len(values))
	out := make([]float64, 0)
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func pick(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = values[k]
	}
	return out
}

// Package model_selection draws the sample partitions used for cross-fitting
// and provides the grid search collaborator used to tune nuisance learners.
package model_selection

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Fold represents a single train/test split. Indices are sorted ascending.
type Fold struct {
	Train []int
	Test  []int
}

// KFold implements k-fold cross-validation splitter.
// 並べ替え後の連続したブロックをテスト集合とし、先頭の n % k 個のフォールドが1つ大きくなる。
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed int64) *KFold {
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold
func (kf *KFold) Split(nSamples int) ([]Fold, error) {
	if kf.NSplits < 2 {
		return nil, errors.NewValidationError("n_folds", "must be at least 2", kf.NSplits)
	}
	if kf.NSplits > nSamples {
		return nil, errors.NewValidationError("n_folds",
			fmt.Sprintf("cannot be greater than the number of samples (%d)", nSamples), kf.NSplits)
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}

	if kf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(kf.RandomSeed), uint64(kf.RandomSeed)))
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	folds := make([]Fold, kf.NSplits)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits

	currentIdx := 0
	for i := 0; i < kf.NSplits; i++ {
		testSize := foldSize
		if i < remainder {
			testSize++
		}
		folds[i] = foldFromTest(nSamples, indices[currentIdx:currentIdx+testSize])
		currentIdx += testSize
	}
	return folds, nil
}

// foldFromTest builds a fold whose train set is the complement of test.
func foldFromTest(nSamples int, test []int) Fold {
	isTest := make([]bool, nSamples)
	testIndices := make([]int, len(test))
	copy(testIndices, test)
	sort.Ints(testIndices)
	for _, idx := range testIndices {
		isTest[idx] = true
	}

	trainIndices := make([]int, 0, nSamples-len(test))
	for j := 0; j < nSamples; j++ {
		if !isTest[j] {
			trainIndices = append(trainIndices, j)
		}
	}
	return Fold{Train: trainIndices, Test: testIndices}
}

// StratifiedKFold implements stratified k-fold cross-validation.
// It is used when tuning classifiers so that every inner fold sees both classes.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed int64) *StratifiedKFold {
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// Split generates stratified train/test indices for each fold
func (skf *StratifiedKFold) Split(y []float64) ([]Fold, error) {
	nSamples := len(y)
	if skf.NSplits < 2 {
		return nil, errors.NewValidationError("n_folds", "must be at least 2", skf.NSplits)
	}

	// Group indices by class
	classIndices := make(map[float64][]int)
	labels := make([]float64, 0)
	for i, label := range y {
		if _, ok := classIndices[label]; !ok {
			labels = append(labels, label)
		}
		classIndices[label] = append(classIndices[label], i)
	}
	// map の反復順序に依存しないようラベル順で処理する
	sort.Float64s(labels)
	for _, label := range labels {
		if len(classIndices[label]) < skf.NSplits {
			return nil, errors.NewValidationError("n_folds",
				fmt.Sprintf("class %v has only %d members", label, len(classIndices[label])), skf.NSplits)
		}
	}

	if skf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(skf.RandomSeed), uint64(skf.RandomSeed)))
		for _, label := range labels {
			indices := classIndices[label]
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
	}

	tests := make([][]int, skf.NSplits)
	for _, label := range labels {
		indices := classIndices[label]
		nClass := len(indices)
		foldSize := nClass / skf.NSplits
		remainder := nClass % skf.NSplits

		currentIdx := 0
		for i := 0; i < skf.NSplits; i++ {
			testSize := foldSize
			if i < remainder {
				testSize++
			}
			tests[i] = append(tests[i], indices[currentIdx:currentIdx+testSize]...)
			currentIdx += testSize
		}
	}

	folds := make([]Fold, skf.NSplits)
	for i := range folds {
		folds[i] = foldFromTest(nSamples, tests[i])
	}
	return folds, nil
}

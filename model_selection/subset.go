package model_selection

import "gonum.org/v1/gonum/mat"

// ExtractRows copies the given rows of X into a new dense matrix, in the
// order of indices.
func ExtractRows(X mat.Matrix, indices []int) *mat.Dense {
	_, cols := X.Dims()
	out := mat.NewDense(len(indices), cols, nil)
	if dense, ok := X.(interface{ RawRowView(int) []float64 }); ok {
		for i, idx := range indices {
			out.SetRow(i, dense.RawRowView(idx))
		}
		return out
	}
	for i, idx := range indices {
		for j := 0; j < cols; j++ {
			out.Set(i, j, X.At(idx, j))
		}
	}
	return out
}

// ExtractVec returns y[indices] as an n×1 matrix.
func ExtractVec(y []float64, indices []int) *mat.Dense {
	out := mat.NewDense(len(indices), 1, nil)
	for i, idx := range indices {
		out.Set(i, 0, y[idx])
	}
	return out
}

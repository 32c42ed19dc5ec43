package metrics

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ShapeMismatchError reports two matrices that must have identical shape.
type ShapeMismatchError struct {
	Op                   string
	LeftRows, LeftCols   int
	RightRows, RightCols int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("metrics: %s: shape %dx%d does not match %dx%d",
		e.Op, e.LeftRows, e.LeftCols, e.RightRows, e.RightCols)
}

// TopClass returns a column holding the arg-max class index of each row.
func TopClass(scores mat.Matrix) *mat.Dense {
	rows, cols := scores.Dims()
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(rows, 1, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, scores)
		out.Set(i, 0, float64(floats.MaxIdx(row)))
	}
	return out
}

// LabelColumn reshapes labels into a len(labels) x 1 column so it lines up
// with the output of TopClass.
func LabelColumn(labels []int) *mat.Dense {
	if len(labels) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(labels), 1, nil)
	for i, l := range labels {
		out.Set(i, 0, float64(l))
	}
	return out
}

// CountCorrect counts equal elements of predicted and labels, which must have
// identical shapes.
func CountCorrect(predicted, labels mat.Matrix) (int, error) {
	pr, pc := predicted.Dims()
	lr, lc := labels.Dims()
	if pr != lr || pc != lc {
		return 0, &ShapeMismatchError{Op: "compare", LeftRows: pr, LeftCols: pc, RightRows: lr, RightCols: lc}
	}
	correct := 0
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			if predicted.At(i, j) == labels.At(i, j) {
				correct++
			}
		}
	}
	return correct, nil
}

// Correct returns how many rows of scores have their arg-max at the label.
func Correct(scores mat.Matrix, labels []int) (int, error) {
	return CountCorrect(TopClass(scores), LabelColumn(labels))
}

// Accuracy returns the fraction of rows of scores classified correctly.
func Accuracy(scores mat.Matrix, labels []int) (float64, error) {
	if len(labels) == 0 {
		return 0, errors.New("metrics: accuracy of an empty batch")
	}
	correct, err := Correct(scores, labels)
	if err != nil {
		return 0, err
	}
	return float64(correct) / float64(len(labels)), nil
}

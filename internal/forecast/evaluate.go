package forecast

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrAlignment marks actual and predicted windows that cannot be compared.
	ErrAlignment = errors.New("alignment error")
	// ErrUndefinedMAPE marks an actual window containing a zero.
	ErrUndefinedMAPE = errors.New("mape undefined")
)

// AlignmentError reports actual and predicted windows of different or zero length.
type AlignmentError struct {
	Actual    int
	Predicted int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment error: %d actual values vs %d predicted", e.Actual, e.Predicted)
}

func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }

// UndefinedMAPEError reports the first zero in the actual window.
type UndefinedMAPEError struct {
	Index int
}

func (e *UndefinedMAPEError) Error() string {
	return fmt.Sprintf("mape undefined: actual value at position %d is zero", e.Index)
}

func (e *UndefinedMAPEError) Is(target error) bool { return target == ErrUndefinedMAPE }

// Metrics are forecast accuracy scores over an aligned window. MAPE is a
// fraction, not a percentage.
type Metrics struct {
	RMSE float64
	MAPE float64
}

// Evaluate scores predicted against actual. When an actual value is zero the
// returned metrics carry RMSE, MAPE is NaN and the error is an UndefinedMAPEError.
func Evaluate(actual, predicted []float64) (Metrics, error) {
	if len(actual) != len(predicted) || len(actual) == 0 {
		return Metrics{}, &AlignmentError{Actual: len(actual), Predicted: len(predicted)}
	}
	for i := range actual {
		if math.IsNaN(actual[i]) || math.IsInf(actual[i], 0) || math.IsNaN(predicted[i]) || math.IsInf(predicted[i], 0) {
			return Metrics{}, fmt.Errorf("non-finite value at position %d: actual %v, predicted %v", i, actual[i], predicted[i])
		}
	}

	var sq float64
	for i := range actual {
		d := actual[i] - predicted[i]
		sq += d * d
	}
	m := Metrics{RMSE: math.Sqrt(sq / float64(len(actual)))}

	var ape float64
	for i, a := range actual {
		if a == 0 {
			m.MAPE = math.NaN()
			return m, &UndefinedMAPEError{Index: i}
		}
		ape += math.Abs(a-predicted[i]) / math.Abs(a)
	}
	m.MAPE = ape / float64(len(actual))
	return m, nil
}

package forecast

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ridgeSolve minimises |y - Xb|^2 + sum(penalty[j] * b[j]^2) through the
// normal equations. rows holds X row by row; every row has len(penalty) columns.
func ridgeSolve(rows [][]float64, y, penalty []float64) ([]float64, error) {
	k := len(penalty)
	if k == 0 || len(rows) == 0 {
		return nil, errors.New("empty design matrix")
	}
	if len(rows) != len(y) {
		return nil, fmt.Errorf("design has %d rows for %d targets", len(rows), len(y))
	}

	xtx := mat.NewSymDense(k, nil)
	xty := mat.NewVecDense(k, nil)
	for r, row := range rows {
		for i := 0; i < k; i++ {
			if row[i] == 0 {
				continue
			}
			xty.SetVec(i, xty.AtVec(i)+row[i]*y[r])
			for j := i; j < k; j++ {
				xtx.SetSym(i, j, xtx.At(i, j)+row[i]*row[j])
			}
		}
	}
	for i, p := range penalty {
		xtx.SetSym(i, i, xtx.At(i, i)+p)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(xtx); !ok {
		return nil, errors.New("normal equations are not positive definite")
	}
	beta := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(beta, xty); err != nil {
		// A Condition error still leaves a usable solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	out := make([]float64, k)
	for i := range out {
		out[i] = beta.AtVec(i)
	}
	return out, nil
}

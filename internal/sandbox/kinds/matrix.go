package kinds

import (
	"encoding/json"
	"math/big"
)

type matrix struct {
	cells      [][]number
	rows, cols int
	hasFloat   bool
}

// MatrixMultiply returns a×b for {"a": [[...]], "b": [[...]]}. Integer
// matrices are multiplied exactly; a single float input makes the whole
// product float64.
func MatrixMultiply(data json.RawMessage) (any, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("data must contain matrices 'a' and 'b'")
	}
	rawA, okA := obj["a"]
	rawB, okB := obj["b"]
	if !okA || !okB {
		return nil, invalid("data must contain matrices 'a' and 'b'")
	}

	a, err := parseMatrix(rawA, "a")
	if err != nil {
		return nil, err
	}
	b, err := parseMatrix(rawB, "b")
	if err != nil {
		return nil, err
	}
	if a.cols != b.rows {
		return nil, invalid("matrix dimensions don't match for multiplication: %dx%d by %dx%d",
			a.rows, a.cols, b.rows, b.cols)
	}

	if a.hasFloat || b.hasFloat {
		return multiplyFloat(a, b), nil
	}
	return multiplyInt(a, b), nil
}

func parseMatrix(v any, name string) (matrix, error) {
	rows, ok := v.([]any)
	if !ok || len(rows) == 0 {
		return matrix{}, invalid("matrix %s must be a non-empty list of rows", name)
	}
	m := matrix{rows: len(rows)}
	for r, rawRow := range rows {
		row, ok := rawRow.([]any)
		if !ok || len(row) == 0 {
			return matrix{}, invalid("matrix %s row %d must be a non-empty list of numbers", name, r)
		}
		if r == 0 {
			m.cols = len(row)
		} else if len(row) != m.cols {
			return matrix{}, invalid("matrix %s is ragged: row %d has %d columns, want %d", name, r, len(row), m.cols)
		}
		nums, err := parseNumbers(row)
		if err != nil {
			return matrix{}, invalid("matrix %s row %d: %v", name, r, err)
		}
		for _, n := range nums {
			if !n.isInt {
				m.hasFloat = true
			}
		}
		m.cells = append(m.cells, nums)
	}
	return m, nil
}

func multiplyInt(a, b matrix) [][]*big.Int {
	out := make([][]*big.Int, a.rows)
	term := new(big.Int)
	for i := range out {
		out[i] = make([]*big.Int, b.cols)
		for j := range out[i] {
			acc := new(big.Int)
			for k := 0; k < a.cols; k++ {
				acc.Add(acc, term.Mul(a.cells[i][k].i, b.cells[k][j].i))
			}
			out[i][j] = acc
		}
	}
	return out
}

func multiplyFloat(a, b matrix) [][]float64 {
	out := make([][]float64, a.rows)
	for i := range out {
		out[i] = make([]float64, b.cols)
		for j := range out[i] {
			var acc float64
			for k := 0; k < a.cols; k++ {
				acc += a.cells[i][k].float() * b.cells[k][j].float()
			}
			out[i][j] = acc
		}
	}
	return out
}

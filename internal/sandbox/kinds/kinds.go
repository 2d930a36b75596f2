// Package kinds implements the built-in task computations. Every function
// here is pure: it reads the task payload and returns a JSON result or an
// error wrapping domain.ErrValidation for bad input.
package kinds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/torrentnode/torrentnode/internal/domain"
)

// Run executes one task kind over its raw JSON payload. code is only read
// for custom tasks.
func Run(kind domain.TaskKind, data json.RawMessage, code string) (json.RawMessage, error) {
	var (
		out any
		err error
	)

	switch kind {
	case domain.KindSum:
		out, err = Sum(data)
	case domain.KindMultiply:
		out, err = Multiply(data)
	case domain.KindSort:
		out, err = Sort(data)
	case domain.KindHash:
		out, err = Hash(data)
	case domain.KindFactorial:
		out, err = Factorial(data)
	case domain.KindPrimeCheck:
		out, err = PrimeCheck(data)
	case domain.KindMatrixMultiply:
		out, err = MatrixMultiply(data)
	case domain.KindTextAnalysis:
		out, err = TextAnalysis(data)
	case domain.KindCustom:
		out, err = Custom(code, data)
	default:
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrUnknownTaskKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return encode(out)
}

// ─── Payload helpers ────────────────────────────────────────────────────────

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// decode parses a payload keeping numbers as their literal text.
func decode(data json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalid("data is not valid JSON: %v", err)
	}
	if dec.More() {
		return nil, invalid("data has trailing content")
	}
	return v, nil
}

func list(v any, what string) ([]any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, invalid("data must be a list of %s", what)
	}
	return items, nil
}

func encode(v any) (json.RawMessage, error) {
	if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil, invalid("result is not a finite number")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, invalid("result cannot be encoded: %v", err)
	}
	return b, nil
}

// bigOrFloat normalizes a computed value for encoding.
func bigOrFloat(i *big.Int, f float64, isFloat bool) any {
	if isFloat {
		return f
	}
	return i
}

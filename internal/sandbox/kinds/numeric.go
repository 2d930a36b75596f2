package kinds

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
)

// number is one numeric input. Integer literals stay exact; any literal
// with a fraction or exponent is a float64.
type number struct {
	i     *big.Int
	f     float64
	isInt bool
}

func parseNumber(v any) (number, error) {
	n, ok := v.(json.Number)
	if !ok {
		return number{}, invalid("expected a number, got %s", typeName(v))
	}
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return number{}, invalid("bad integer %q", s)
		}
		return number{i: i, isInt: true}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return number{}, invalid("bad number %q", s)
	}
	return number{f: f}, nil
}

func parseNumbers(items []any) ([]number, error) {
	nums := make([]number, len(items))
	for idx, item := range items {
		n, err := parseNumber(item)
		if err != nil {
			return nil, invalid("element %d: %v", idx, err)
		}
		nums[idx] = n
	}
	return nums, nil
}

// parseInteger accepts only an integer literal.
func parseInteger(data json.RawMessage) (*big.Int, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	n, err := parseNumber(v)
	if err != nil || !n.isInt {
		return nil, invalid("data must be an integer")
	}
	return n.i, nil
}

func (n number) float() float64 {
	if !n.isInt {
		return n.f
	}
	return bigToFloat(n.i)
}

func (n number) value() any {
	return bigOrFloat(n.i, n.f, !n.isInt)
}

// cmp compares two numbers by mathematical value.
func (n number) cmp(o number) int {
	if n.isInt && o.isInt {
		return n.i.Cmp(o.i)
	}
	return n.bigFloat().Cmp(o.bigFloat())
}

func (n number) bigFloat() *big.Float {
	if n.isInt {
		return new(big.Float).SetInt(n.i)
	}
	return big.NewFloat(n.f)
}

func bigToFloat(i *big.Int) float64 {
	f, _ := new(big.Float).SetInt(i).Float64()
	return f
}

// fold reduces numbers left to right. The accumulator stays an exact
// integer until the first float input and is a float64 from then on.
func fold(nums []number, identity int64,
	intOp func(z, x, y *big.Int) *big.Int, floatOp func(x, y float64) float64) any {

	acc := big.NewInt(identity)
	var f float64
	isFloat := false
	for _, n := range nums {
		if !isFloat && n.isInt {
			intOp(acc, acc, n.i)
			continue
		}
		if !isFloat {
			f = bigToFloat(acc)
			isFloat = true
		}
		f = floatOp(f, n.float())
	}
	return bigOrFloat(acc, f, isFloat)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

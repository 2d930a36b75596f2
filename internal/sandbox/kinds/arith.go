package kinds

import (
	"encoding/json"
	"math"
	"math/big"
)

// Limits on single-integer kinds.
const (
	MaxFactorial  = 1000
	MaxPrimeCheck = 1_000_000_000_000
)

// Sum returns the total of a numeric list. An empty list sums to 0.
func Sum(data json.RawMessage) (any, error) {
	nums, err := numericList(data)
	if err != nil {
		return nil, err
	}
	return fold(nums, 0, (*big.Int).Add, func(x, y float64) float64 { return x + y }), nil
}

// Multiply returns the product of a non-empty numeric list.
func Multiply(data json.RawMessage) (any, error) {
	nums, err := numericList(data)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, invalid("data must be a non-empty list of numbers")
	}
	return fold(nums, 1, (*big.Int).Mul, func(x, y float64) float64 { return x * y }), nil
}

func numericList(data json.RawMessage) ([]number, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	items, err := list(v, "numbers")
	if err != nil {
		return nil, err
	}
	return parseNumbers(items)
}

// Factorial returns n! exactly for 0 <= n <= MaxFactorial.
func Factorial(data json.RawMessage) (any, error) {
	n, err := parseInteger(data)
	if err != nil {
		return nil, invalid("data must be a non-negative integer")
	}
	if n.Sign() < 0 {
		return nil, invalid("data must be a non-negative integer")
	}
	if n.Cmp(big.NewInt(MaxFactorial)) > 0 {
		return nil, invalid("factorial input too large (max %d)", MaxFactorial)
	}
	return new(big.Int).MulRange(1, n.Int64()), nil
}

// PrimeCheck reports whether n is prime by trial division over odd
// divisors up to sqrt(n).
func PrimeCheck(data json.RawMessage) (any, error) {
	bn, err := parseInteger(data)
	if err != nil {
		return nil, invalid("data must be an integer >= 2")
	}
	if bn.Cmp(big.NewInt(2)) < 0 {
		return nil, invalid("data must be an integer >= 2")
	}
	if bn.Cmp(big.NewInt(MaxPrimeCheck)) > 0 {
		return nil, invalid("number too large for prime check (max %d)", int64(MaxPrimeCheck))
	}
	return isPrime(bn.Int64()), nil
}

func isPrime(n int64) bool {
	if n == 2 {
		return true
	}
	if n%2 == 0 {
		return false
	}
	limit := isqrt(n)
	for i := int64(3); i <= limit; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// isqrt returns floor(sqrt(n)) without float rounding surprises.
func isqrt(n int64) int64 {
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

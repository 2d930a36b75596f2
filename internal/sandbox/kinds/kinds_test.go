package kinds

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/torrentnode/torrentnode/internal/domain"
)

func run(t *testing.T, kind domain.TaskKind, data string) string {
	t.Helper()
	out, err := Run(kind, json.RawMessage(data), "")
	require.NoError(t, err, "Run(%s, %s)", kind, data)
	return string(out)
}

func runErr(t *testing.T, kind domain.TaskKind, data string) error {
	t.Helper()
	_, err := Run(kind, json.RawMessage(data), "")
	require.Error(t, err, "Run(%s, %s) should fail", kind, data)
	return err
}

// ─── Arithmetic ─────────────────────────────────────────────────────────────

func TestSum(t *testing.T) {
	tests := []struct {
		data, want string
	}{
		{`[10, 20, 30, 40]`, `100`},
		{`[]`, `0`},
		{`[1.5, 2.25]`, `3.75`},
		{`[1, 2, 0.5]`, `3.5`},
		{`[9007199254740993, 1]`, `9007199254740994`},
		{`[99999999999999999999999, 1]`, `100000000000000000000000`},
	}
	for _, tt := range tests {
		if got := run(t, domain.KindSum, tt.data); got != tt.want {
			t.Errorf("Sum(%s) = %s, want %s", tt.data, got, tt.want)
		}
	}
}

func TestSum_Rejects(t *testing.T) {
	for _, data := range []string{`"abc"`, `[1, "2"]`, `[true]`, `{`, `{"a":1}`} {
		err := runErr(t, domain.KindSum, data)
		assert.ErrorIs(t, err, domain.ErrValidation, data)
	}
}

func TestMultiply(t *testing.T) {
	assert.Equal(t, `120`, run(t, domain.KindMultiply, `[2, 3, 4, 5]`))
	assert.Equal(t, `7.5`, run(t, domain.KindMultiply, `[3, 2.5]`))
	assert.Equal(t, `0`, run(t, domain.KindMultiply, `[0, 99]`))

	err := runErr(t, domain.KindMultiply, `[]`)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFactorial(t *testing.T) {
	assert.Equal(t, `3628800`, run(t, domain.KindFactorial, `10`))
	assert.Equal(t, `1`, run(t, domain.KindFactorial, `0`))

	big := run(t, domain.KindFactorial, `1000`)
	assert.Len(t, big, 2568, "1000! has 2568 digits")

	for _, data := range []string{`-1`, `1001`, `10.0`, `"10"`} {
		err := runErr(t, domain.KindFactorial, data)
		assert.ErrorIs(t, err, domain.ErrValidation, data)
	}
}

func TestFactorial_TooLargeMessage(t *testing.T) {
	err := runErr(t, domain.KindFactorial, `1001`)
	assert.Contains(t, err.Error(), "too large")
}

func TestPrimeCheck(t *testing.T) {
	tests := []struct {
		n    string
		want string
	}{
		{`2`, `true`},
		{`3`, `true`},
		{`4`, `false`},
		{`97`, `true`},
		{`100`, `false`},
		{`7919`, `true`},
		{`999999999999`, `false`},
		{`999999999989`, `true`},
	}
	for _, tt := range tests {
		if got := run(t, domain.KindPrimeCheck, tt.n); got != tt.want {
			t.Errorf("PrimeCheck(%s) = %s, want %s", tt.n, got, tt.want)
		}
	}

	for _, data := range []string{`1`, `0`, `-7`, `1000000000001`, `9.5`} {
		err := runErr(t, domain.KindPrimeCheck, data)
		assert.ErrorIs(t, err, domain.ErrValidation, data)
	}
}

func TestIsqrt(t *testing.T) {
	for _, n := range []int64{0, 1, 3, 4, 15, 16, 17, 999999999999, 1000000000000} {
		r := isqrt(n)
		if r*r > n || (r+1)*(r+1) <= n {
			t.Errorf("isqrt(%d) = %d", n, r)
		}
	}
}

// ─── Collections ────────────────────────────────────────────────────────────

func TestSort(t *testing.T) {
	tests := []struct {
		data, want string
	}{
		{`[5, 2, 8, 1, 9, 3]`, `[1,2,3,5,8,9]`},
		{`[3, 1.5, 2]`, `[1.5,2,3]`},
		{`["pear", "apple", "Banana"]`, `["Banana","apple","pear"]`},
		{`[]`, `[]`},
		{`[2, 2.0, 1]`, `[1,2,2]`},
	}
	for _, tt := range tests {
		if got := run(t, domain.KindSort, tt.data); got != tt.want {
			t.Errorf("Sort(%s) = %s, want %s", tt.data, got, tt.want)
		}
	}
}

func TestSort_Stable(t *testing.T) {
	// 2 (int) and 2.0 (float) compare equal; input order must be kept.
	out, err := Sort(json.RawMessage(`[2.0, 1, 2]`))
	require.NoError(t, err)
	vals := out.([]any)
	_, firstIsFloat := vals[1].(float64)
	assert.True(t, firstIsFloat, "equal elements should keep input order")
}

func TestSort_MixedTypes(t *testing.T) {
	for _, data := range []string{`[1, "a"]`, `["a", 1]`, `[null]`, `[[1], [2]]`} {
		err := runErr(t, domain.KindSort, data)
		assert.ErrorIs(t, err, domain.ErrValidation, data)
	}
}

func TestHash_Fixture(t *testing.T) {
	const input = "Hello, TorrentNode Net!"
	sum := sha256.Sum256([]byte(input))
	want := `"` + hex.EncodeToString(sum[:]) + `"`

	assert.Equal(t, want, run(t, domain.KindHash, `"Hello, TorrentNode Net!"`))
}

func TestHash_NonStringCoerced(t *testing.T) {
	sum := sha256.Sum256([]byte(`[1,2,3]`))
	want := `"` + hex.EncodeToString(sum[:]) + `"`
	assert.Equal(t, want, run(t, domain.KindHash, `[1, 2,  3]`))
}

func TestMatrixMultiply(t *testing.T) {
	got := run(t, domain.KindMatrixMultiply, `{"a": [[1,2],[3,4]], "b": [[5,6],[7,8]]}`)
	assert.Equal(t, `[[19,22],[43,50]]`, got)

	got = run(t, domain.KindMatrixMultiply, `{"a": [[1,2,3]], "b": [[1],[2],[3]]}`)
	assert.Equal(t, `[[14]]`, got)

	got = run(t, domain.KindMatrixMultiply, `{"a": [[0.5]], "b": [[4]]}`)
	assert.Equal(t, `[[2]]`, got)
}

func TestMatrixMultiply_Rejects(t *testing.T) {
	for _, data := range []string{
		`{"a": [[1,2],[3,4]], "b": [[1,2,3]]}`,
		`{"a": [[1,2],[3]], "b": [[1],[2]]}`,
		`{"a": [[1]]}`,
		`{"a": [], "b": [[1]]}`,
		`[[1]]`,
	} {
		err := runErr(t, domain.KindMatrixMultiply, data)
		assert.ErrorIs(t, err, domain.ErrValidation, data)
	}
}

// ─── Text ───────────────────────────────────────────────────────────────────

func TestTextAnalysis(t *testing.T) {
	out, err := TextAnalysis(json.RawMessage(`"The cat. the Dog! a cat"`))
	require.NoError(t, err)
	stats := out.(TextStats)

	assert.Equal(t, 23, stats.TotalChars)
	assert.Equal(t, 18, stats.CharsNoSpaces)
	assert.Equal(t, 6, stats.WordCount)
	assert.Equal(t, 4, stats.UniqueWords)
	assert.InDelta(t, 3.0, stats.AverageWordLength, 1e-12)
	assert.Equal(t, WordCounts{
		{"the", 2}, {"cat", 2}, {"dog", 1}, {"a", 1},
	}, stats.TopWords)
}

func TestTextAnalysis_TopWordsOrderedJSON(t *testing.T) {
	got := run(t, domain.KindTextAnalysis, `"b a b c a b"`)
	assert.Contains(t, got, `"top_words":{"b":3,"a":2,"c":1}`)
}

func TestTextAnalysis_TopTenOnly(t *testing.T) {
	out, err := TextAnalysis(json.RawMessage(`"a b c d e f g h i j k l"`))
	require.NoError(t, err)
	stats := out.(TextStats)
	assert.Len(t, stats.TopWords, TopWordsLimit)
	assert.Equal(t, "a", stats.TopWords[0].Word)
	assert.Equal(t, 12, stats.UniqueWords)
}

func TestTextAnalysis_Empty(t *testing.T) {
	got := run(t, domain.KindTextAnalysis, `""`)
	assert.JSONEq(t, `{"total_chars":0,"chars_no_spaces":0,"word_count":0,"unique_words":0,"average_word_length":0,"top_words":{}}`, got)

	err := runErr(t, domain.KindTextAnalysis, `42`)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ─── Custom ─────────────────────────────────────────────────────────────────

const addWAT = `(module
  (func (export "run") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    i32.add))`

func TestCustom_WAT(t *testing.T) {
	out, err := Run(domain.KindCustom, json.RawMessage(`{"args": [2, 3]}`), addWAT)
	require.NoError(t, err)
	assert.Equal(t, `5`, string(out))
}

func TestCustom_Base64AndNamedEntry(t *testing.T) {
	bin, err := wasmer.Wat2Wasm(`(module
  (func (export "square") (param i64) (result i64)
    local.get 0
    local.get 0
    i64.mul))`)
	require.NoError(t, err)

	out, err := Run(domain.KindCustom,
		json.RawMessage(`{"entry": "square", "args": [3000000000]}`),
		base64.StdEncoding.EncodeToString(bin))
	require.NoError(t, err)
	assert.Equal(t, `9000000000000000000`, string(out))
}

func TestCustom_Rejects(t *testing.T) {
	tests := []struct {
		name, code, data string
	}{
		{"host import", `(module (import "env" "open" (func)) (func (export "run")))`, `{}`},
		{"missing entry", addWAT, `{"entry": "nope", "args": [1, 2]}`},
		{"arg count", addWAT, `{"args": [1]}`},
		{"arg overflow", addWAT, `{"args": [1, 3000000000]}`},
		{"trap", `(module (func (export "run") unreachable))`, `{}`},
		{"garbage", `!!!`, `{}`},
		{"not wasm", base64.StdEncoding.EncodeToString([]byte("hello")), `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(domain.KindCustom, json.RawMessage(tt.data), tt.code)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation), "error = %v", err)
		})
	}
}

func TestRun_UnknownKind(t *testing.T) {
	_, err := Run(domain.TaskKind("render"), json.RawMessage(`1`), "")
	assert.ErrorIs(t, err, domain.ErrUnknownTaskKind)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

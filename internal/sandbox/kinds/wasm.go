package kinds

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"strings"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// DefaultEntry is the export called when a custom payload names none.
const DefaultEntry = "run"

var wasmMagic = []byte("\x00asm")

// CustomInput is the data payload of a custom task.
type CustomInput struct {
	Entry string        `json:"entry,omitempty"`
	Args  []json.Number `json:"args,omitempty"`
}

// Custom runs a WebAssembly module supplied as WAT text or base64-encoded
// binary. The module is instantiated with an empty import object, so it has
// no host functions: no filesystem, network or clock. Memory and time are
// bounded by the worker process that hosts this call.
func Custom(code string, data json.RawMessage) (any, error) {
	in, err := parseCustomInput(data)
	if err != nil {
		return nil, err
	}
	wasmBytes, err := moduleBytes(code)
	if err != nil {
		return nil, err
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, invalid("compile module: %v", err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, invalid("instantiate module (host imports are not available): %v", err)
	}

	fn, err := instance.Exports.GetRawFunction(in.Entry)
	if err != nil {
		return nil, invalid("module has no exported function %q", in.Entry)
	}
	args, err := wasmArgs(fn.Type().Params(), in.Args)
	if err != nil {
		return nil, err
	}

	out, err := fn.Call(args...)
	if err != nil {
		return nil, invalid("wasm trap in %q: %v", in.Entry, err)
	}
	return wasmResult(out), nil
}

func parseCustomInput(data json.RawMessage) (CustomInput, error) {
	in := CustomInput{Entry: DefaultEntry}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return in, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return CustomInput{}, invalid("custom data must be {\"entry\": string, \"args\": [numbers]}: %v", err)
	}
	if in.Entry == "" {
		in.Entry = DefaultEntry
	}
	return in, nil
}

// moduleBytes accepts WAT text (starting with '(') or a base64 binary.
func moduleBytes(code string) ([]byte, error) {
	src := strings.TrimSpace(code)
	if src == "" {
		return nil, invalid("custom task has no code")
	}
	if strings.HasPrefix(src, "(") {
		b, err := wasmer.Wat2Wasm(src)
		if err != nil {
			return nil, invalid("parse WAT: %v", err)
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(src)
	if err != nil {
		return nil, invalid("code is neither WAT text nor base64 wasm")
	}
	if !bytes.HasPrefix(b, wasmMagic) {
		return nil, invalid("decoded code is not a wasm binary")
	}
	return b, nil
}

func wasmArgs(params []*wasmer.ValueType, raw []json.Number) ([]any, error) {
	if len(params) != len(raw) {
		return nil, invalid("entry takes %d arguments, got %d", len(params), len(raw))
	}
	args := make([]any, len(raw))
	for i, p := range params {
		n, err := parseNumber(raw[i])
		if err != nil {
			return nil, invalid("argument %d: %v", i, err)
		}
		switch p.Kind() {
		case wasmer.I32:
			if !n.isInt || !n.i.IsInt64() || n.i.Int64() < math.MinInt32 || n.i.Int64() > math.MaxInt32 {
				return nil, invalid("argument %d must be a 32-bit integer", i)
			}
			args[i] = int32(n.i.Int64())
		case wasmer.I64:
			if !n.isInt || !n.i.IsInt64() {
				return nil, invalid("argument %d must be a 64-bit integer", i)
			}
			args[i] = n.i.Int64()
		case wasmer.F32:
			args[i] = float32(n.float())
		case wasmer.F64:
			args[i] = n.float()
		default:
			return nil, invalid("argument %d has unsupported type %s", i, p.Kind())
		}
	}
	return args, nil
}

func wasmResult(out any) any {
	switch v := out.(type) {
	case nil:
		return nil
	case float32:
		return float64(v)
	case []any:
		res := make([]any, len(v))
		for i := range v {
			res[i] = wasmResult(v[i])
		}
		return res
	default:
		return v
	}
}

package ethereum

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "DappBridge/internal/errors"
)

// coerceArgs converts loosely typed arguments (as decoded from JSON or a CLI)
// into the Go types the ABI packer expects for method.
func coerceArgs(method abi.Method, args []any) ([]any, error) {
	if len(args) != len(method.Inputs) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("操作 %s 需要 %d 个参数，实际传入 %d 个", method.Name, len(method.Inputs), len(args)))
	}
	out := make([]any, len(args))
	for i, input := range method.Inputs {
		v, err := coerce(args[i], input.Type)
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("参数 %s 无法转换为 %s", name, input.Type.String()))
		}
		out[i] = v
	}
	return out, nil
}

func coerce(value any, t abi.Type) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return toAddress(value)
	case abi.IntTy, abi.UintTy:
		n, err := toBig(value)
		if err != nil {
			return nil, err
		}
		return fitInteger(n, t)
	case abi.BoolTy:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1":
				return true, nil
			case "false", "0":
				return false, nil
			}
		}
		return nil, fmt.Errorf("unsupported bool value %v", value)
	case abi.StringTy:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case abi.BytesTy:
		return toBytes(value)
	case abi.FixedBytesTy:
		raw, err := toBytes(value)
		if err != nil {
			return nil, err
		}
		if len(raw) > t.Size {
			return nil, fmt.Errorf("value is %d bytes, want at most %d", len(raw), t.Size)
		}
		fixed := reflect.New(t.GetType()).Elem()
		reflect.Copy(fixed, reflect.ValueOf(raw))
		return fixed.Interface(), nil
	case abi.SliceTy, abi.ArrayTy:
		return coerceList(value, t)
	case abi.TupleTy:
		return coerceTuple(value, t)
	default:
		return value, nil
	}
}

// coerceTuple builds the struct the packer expects for a tuple, from either a
// map keyed by component name or a positional list.
func coerceTuple(value any, t abi.Type) (any, error) {
	typ := t.GetType()
	if reflect.TypeOf(value) == typ {
		return value, nil
	}
	out := reflect.New(typ).Elem()
	switch v := value.(type) {
	case map[string]any:
		if len(v) != len(t.TupleElems) {
			return nil, fmt.Errorf("expected %d tuple fields, got %d", len(t.TupleElems), len(v))
		}
		for i, elemType := range t.TupleElems {
			name := t.TupleRawNames[i]
			raw, ok := v[name]
			if !ok {
				raw, ok = v[typ.Field(i).Name]
			}
			if !ok {
				return nil, fmt.Errorf("missing tuple field %q", name)
			}
			if err := coerceInto(out.Field(i), raw, *elemType); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
		}
	case []any:
		if len(v) != len(t.TupleElems) {
			return nil, fmt.Errorf("expected %d tuple fields, got %d", len(t.TupleElems), len(v))
		}
		for i, elemType := range t.TupleElems {
			if err := coerceInto(out.Field(i), v[i], *elemType); err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
		}
	default:
		return nil, fmt.Errorf("expected an object or list for tuple, got %T", value)
	}
	return out.Interface(), nil
}

// coerceInto converts value to t and stores it in dst, refusing values the
// reflect setter would panic on.
func coerceInto(dst reflect.Value, value any, t abi.Type) error {
	v, err := coerce(value, t)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !rv.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("value of type %T does not fit %s", v, t.String())
	}
	dst.Set(rv)
	return nil
}

func coerceList(value any, t abi.Type) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
	// already typed correctly
	if rv.Type() == t.GetType() {
		return value, nil
	}
	if t.T == abi.ArrayTy && rv.Len() != t.Size {
		return nil, fmt.Errorf("expected %d elements, got %d", t.Size, rv.Len())
	}
	var out reflect.Value
	if t.T == abi.ArrayTy {
		out = reflect.New(t.GetType()).Elem()
	} else {
		out = reflect.MakeSlice(t.GetType(), rv.Len(), rv.Len())
	}
	for i := 0; i < rv.Len(); i++ {
		if err := coerceInto(out.Index(i), rv.Index(i).Interface(), *t.Elem); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return out.Interface(), nil
}

func toAddress(value any) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v != nil {
			return *v, nil
		}
	case string:
		s := strings.TrimSpace(v)
		if common.IsHexAddress(s) {
			return common.HexToAddress(s), nil
		}
	}
	return common.Address{}, fmt.Errorf("invalid address %v", value)
}

func toBig(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		n, _ := new(big.Float).SetFloat64(v).Int(nil)
		return n, nil
	case json.Number:
		return parseBig(v.String())
	case string:
		return parseBig(v)
	}
	return nil, fmt.Errorf("unsupported integer value %T", value)
}

func parseBig(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// fitInteger range-checks n against t and returns the Go type the packer
// wants: *big.Int above 64 bits, the sized integer kind otherwise.
func fitInteger(n *big.Int, t abi.Type) (any, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for uint%d", n, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%s out of range for int%d", n, t.Size)
		}
	}
	if t.Size > 64 {
		return n, nil
	}
	typ := t.GetType()
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(typ).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(typ).Interface(), nil
}

func toBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case common.Hash:
		return v.Bytes(), nil
	case string:
		s := strings.TrimSpace(v)
		if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
			s = "0x" + s
		}
		return hexutil.Decode(s)
	}
	return nil, fmt.Errorf("unsupported bytes value %T", value)
}

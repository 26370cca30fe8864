package ethereum

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const coercionABI = `[{"type":"function","name":"mixed","stateMutability":"nonpayable","inputs":[
	{"name":"who","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"small","type":"uint8"},
	{"name":"delta","type":"int32"},
	{"name":"flag","type":"bool"},
	{"name":"label","type":"string"},
	{"name":"blob","type":"bytes"},
	{"name":"tag","type":"bytes4"},
	{"name":"ids","type":"uint256[]"},
	{"name":"pair","type":"address[2]"}
],"outputs":[]}]`

func TestCoerceArgsProducesPackableValues(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(coercionABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	method := parsed.Methods["mixed"]

	args := []any{
		"0x00000000000000000000000000000000000000aa",
		"0x10",
		float64(200),
		json.Number("-5"),
		"true",
		123,
		"0xdeadbeef",
		"cafebabe",
		[]any{float64(1), "2"},
		[]any{"0x00000000000000000000000000000000000000aa", "0x00000000000000000000000000000000000000bb"},
	}
	coerced, err := coerceArgs(method, args)
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if _, err := parsed.Pack("mixed", coerced...); err != nil {
		t.Fatalf("pack coerced args: %v", err)
	}

	if got := coerced[1].(*big.Int); got.Int64() != 16 {
		t.Fatalf("unexpected uint256 %s", got)
	}
	if got := coerced[2].(uint8); got != 200 {
		t.Fatalf("unexpected uint8 %d", got)
	}
	if got := coerced[3].(int32); got != -5 {
		t.Fatalf("unexpected int32 %d", got)
	}
	if got := coerced[5].(string); got != "123" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := coerced[7].([4]byte); got != [4]byte{0xca, 0xfe, 0xba, 0xbe} {
		t.Fatalf("unexpected bytes4 %x", got)
	}
	if got := coerced[9].([2]common.Address); got[1] != common.HexToAddress("0xbb") {
		t.Fatalf("unexpected address array %v", got)
	}
}

func TestCoerceRejectsOutOfRange(t *testing.T) {
	uint8Type, _ := abi.NewType("uint8", "", nil)
	if _, err := coerce(float64(256), uint8Type); err == nil {
		t.Fatal("expected overflow error for uint8")
	}
	if _, err := coerce(-1, uint8Type); err == nil {
		t.Fatal("expected sign error for uint8")
	}
	int8Type, _ := abi.NewType("int8", "", nil)
	if _, err := coerce(-128, int8Type); err != nil {
		t.Fatalf("int8 lower bound should fit: %v", err)
	}
	if _, err := coerce(128, int8Type); err == nil {
		t.Fatal("expected overflow error for int8")
	}
	if _, err := coerce(1.5, uint8Type); err == nil {
		t.Fatal("expected error for fractional value")
	}
	addrType, _ := abi.NewType("address", "", nil)
	if _, err := coerce("not-an-address", addrType); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

const tupleABI = `[{"type":"function","name":"batch","stateMutability":"nonpayable","inputs":[
	{"name":"order","type":"tuple","components":[{"name":"owner","type":"address"},{"name":"amount","type":"uint256"}]},
	{"name":"items","type":"tuple[]","components":[{"name":"a","type":"uint256"}]}
],"outputs":[]}]`

func TestCoerceTuples(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(tupleABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	method := parsed.Methods["batch"]

	cases := []struct {
		name string
		args []any
		ok   bool
	}{
		{"named fields", []any{
			map[string]any{"owner": "0x00000000000000000000000000000000000000aa", "amount": json.Number("7")},
			[]any{map[string]any{"a": "1"}, map[string]any{"a": float64(2)}},
		}, true},
		{"positional fields", []any{
			[]any{"0x00000000000000000000000000000000000000aa", "0x10"},
			[]any{[]any{"3"}},
		}, true},
		{"missing field", []any{
			map[string]any{"owner": "0x00000000000000000000000000000000000000aa", "other": "1"},
			[]any{},
		}, false},
		{"bad element inside tuple list", []any{
			map[string]any{"owner": "0x00000000000000000000000000000000000000aa", "amount": "1"},
			[]any{map[string]any{"a": "not-a-number"}},
		}, false},
		{"scalar where tuple expected", []any{
			"0x00000000000000000000000000000000000000aa",
			[]any{},
		}, false},
		{"scalar elements in tuple list", []any{
			map[string]any{"owner": "0x00000000000000000000000000000000000000aa", "amount": "1"},
			[]any{"1", "2"},
		}, false},
	}
	for _, tc := range cases {
		coerced, err := coerceArgs(method, tc.args)
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: coerce: %v", tc.name, err)
		}
		if _, err := parsed.Pack("batch", coerced...); err != nil {
			t.Fatalf("%s: pack coerced args: %v", tc.name, err)
		}
	}
}

func TestCoerceListRejectsUnassignableElements(t *testing.T) {
	// function types fall through coerce unchanged and must not reach reflect.Set.
	listType, err := abi.NewType("function[]", "", nil)
	if err != nil {
		t.Fatalf("new type: %v", err)
	}
	if _, err := coerce([]any{map[string]any{"x": 1}}, listType); err == nil {
		t.Fatal("expected error for unassignable element")
	}
}

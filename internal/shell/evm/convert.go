package evm

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrArgumentCount = errors.New("wrong number of constructor arguments")
	ErrArgumentType  = errors.New("argument does not match constructor input type")
	ErrUnsupported   = errors.New("unsupported constructor input type")
)

// ConvertArgs converts resolved plan arguments into the Go values the ABI
// encoder expects for inputs. Plan arguments arrive as loosely typed values
// (strings, YAML numbers, booleans, lists), so every value is coerced to the
// declared input type.
func ConvertArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: constructor takes %d, got %d", ErrArgumentCount, len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, in := range inputs {
		v, err := convert(in.Type, args[i])
		if err != nil {
			name := in.Name
			if name == "" {
				name = "#" + strconv.Itoa(i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, in.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func convert(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return toAddress(v)
	case abi.BoolTy:
		return toBool(v)
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, typeErr(v)
		}
		return s, nil
	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return sizedInt(t, n)
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy, abi.HashTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		size := t.Size
		if t.T == abi.HashTy {
			size = common.HashLength
		}
		if len(b) != size {
			return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrArgumentType, size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			return nil, typeErr(v)
		}
		if t.T == abi.ArrayTy && len(items) != t.Size {
			return nil, fmt.Errorf("%w: need %d elements, got %d", ErrArgumentType, t.Size, len(items))
		}
		var out reflect.Value
		if t.T == abi.ArrayTy {
			out = reflect.New(t.GetType()).Elem()
		} else {
			out = reflect.MakeSlice(t.GetType(), len(items), len(items))
		}
		for i, item := range items {
			ev, err := convert(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(ev))
		}
		return out.Interface(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t.String())
	}
}

func typeErr(v any) error {
	return fmt.Errorf("%w: got %T", ErrArgumentType, v)
}

func toAddress(v any) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case string:
		if !common.IsHexAddress(a) {
			return common.Address{}, fmt.Errorf("%w: %q is not an address", ErrArgumentType, a)
		}
		return common.HexToAddress(a), nil
	}
	return common.Address{}, typeErr(v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a boolean", ErrArgumentType, b)
		}
		return parsed, nil
	}
	return false, typeErr(v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		s := strings.TrimPrefix(strings.TrimPrefix(b, "0x"), "0X")
		if len(s)%2 != 0 || !isHex(s) {
			return nil, fmt.Errorf("%w: %q is not hex", ErrArgumentType, b)
		}
		return common.FromHex(s), nil
	}
	return nil, typeErr(v)
}

func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		f := new(big.Float).SetFloat64(n)
		if !f.IsInt() {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrArgumentType, n)
		}
		i, _ := f.Int(nil)
		return i, nil
	case string:
		i, ok := new(big.Int).SetString(strings.TrimSpace(n), 0)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrArgumentType, n)
		}
		return i, nil
	}
	return nil, typeErr(v)
}

// sizedInt returns n as the Go type the ABI encoder uses for t: native
// integers up to 64 bits and *big.Int beyond.
func sizedInt(t abi.Type, n *big.Int) (any, error) {
	unsigned := t.T == abi.UintTy
	if unsigned && n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", ErrArgumentType, n)
	}
	bits := n.BitLen()
	if unsigned && bits > t.Size || !unsigned && bits > t.Size-1 {
		// The most negative value of an intN needs exactly N bits.
		lowest := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1)))
		if unsigned || n.Cmp(lowest) != 0 {
			return nil, fmt.Errorf("%w: %s overflows %s", ErrArgumentType, n, t.String())
		}
	}

	switch {
	case unsigned && t.Size == 8:
		return uint8(n.Uint64()), nil
	case unsigned && t.Size == 16:
		return uint16(n.Uint64()), nil
	case unsigned && t.Size == 32:
		return uint32(n.Uint64()), nil
	case unsigned && t.Size == 64:
		return n.Uint64(), nil
	case !unsigned && t.Size == 8:
		return int8(n.Int64()), nil
	case !unsigned && t.Size == 16:
		return int16(n.Int64()), nil
	case !unsigned && t.Size == 32:
		return int32(n.Int64()), nil
	case !unsigned && t.Size == 64:
		return n.Int64(), nil
	}
	return n, nil
}

package binary

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeBytes converts a content argument to a byte buffer. It accepts a
// []byte, a hex string with optional 0x prefix and whitespace, or a list of
// integers in [0, 255].
func DecodeBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		s := strings.Join(strings.Fields(x), "")
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		out, err := hex.DecodeString(s)
		if err != nil {
			return nil, &TypeMismatchError{Expected: "hex string", Got: fmt.Sprintf("%q", x)}
		}
		return out, nil
	case []int:
		out := make([]byte, len(x))
		for i, n := range x {
			if n < 0 || n > 0xff {
				return nil, &TypeMismatchError{Expected: "byte value", Got: fmt.Sprintf("%d at index %d", n, i)}
			}
			out[i] = byte(n)
		}
		return out, nil
	case []any:
		out := make([]byte, len(x))
		for i, e := range x {
			n, ok := toInt(e)
			if !ok || n < 0 || n > 0xff {
				return nil, &TypeMismatchError{Expected: "byte value", Got: fmt.Sprintf("%v (%T) at index %d", e, e, i)}
			}
			out[i] = byte(n)
		}
		return out, nil
	case nil:
		return nil, &TypeMismatchError{Expected: "buffer or array", Got: "nil"}
	}
	return nil, &TypeMismatchError{Expected: "buffer or array", Got: fmt.Sprintf("%T", v)}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint64:
		if n > 0xff {
			return -1, true
		}
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

package magento

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/kolo/xmlrpc"
	"github.com/shopspring/decimal"

	"github.com/connectorhq/magento-connector/internal/domain/integration"
)

// nilTag is the <nil/> extension Magento 1.x sends for NULL columns. The
// codec does not read it, so it is dropped and the value decodes as "".
var nilTag = []byte("<nil/>")

// encodeCall renders an XML-RPC methodCall. Params are first reduced to the
// types XML-RPC can carry.
func encodeCall(method string, params ...any) ([]byte, error) {
	args := make([]any, len(params))
	for i, p := range params {
		v, err := xmlrpcParam(p)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return xmlrpc.EncodeMethodCall(method, args...)
}

// xmlrpcParam converts v for encoding. <int> is 32-bit: integral floats in
// range become ints and wider integers travel as <double>. Decimals are
// sent as doubles and nil as an empty string.
func xmlrpcParam(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string, bool:
		return val, nil
	case int:
		return intParam(int64(val)), nil
	case int64:
		return intParam(val), nil
	case int32:
		return int(val), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) <= math.MaxInt32 {
			return int(val), nil
		}
		return val, nil
	case decimal.Decimal:
		return val.InexactFloat64(), nil
	case integration.Record:
		return xmlrpcStruct(val)
	case map[string]any:
		return xmlrpcStruct(val)
	case []any:
		return xmlrpcArray(reflect.ValueOf(val))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// []byte is base64
			return v, nil
		}
		return xmlrpcArray(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("magento: cannot encode map keyed by %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return xmlrpcStruct(m)
	case reflect.Int8, reflect.Int16, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return intParam(reflect.ValueOf(v).Convert(reflect.TypeOf(int64(0))).Int()), nil
	case reflect.Float32:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Struct:
		// time.Time and the like are encoded by the codec
		return v, nil
	}
	return nil, fmt.Errorf("magento: cannot encode %T as xml-rpc", v)
}

func intParam(n int64) any {
	if n > math.MaxInt32 || n < math.MinInt32 {
		return float64(n)
	}
	return int(n)
}

func xmlrpcStruct(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		p, err := xmlrpcParam(v)
		if err != nil {
			return nil, fmt.Errorf("magento: member %q: %w", k, err)
		}
		out[k] = p
	}
	return out, nil
}

func xmlrpcArray(rv reflect.Value) ([]any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		p, err := xmlrpcParam(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// decodeResponse parses a methodResponse. A fault becomes a RemoteFault and
// numbers come back as float64, like JSON numbers from the REST API.
func decodeResponse(raw []byte) (any, error) {
	resp := xmlrpc.Response(bytes.ReplaceAll(raw, nilTag, nil))
	if err := resp.Err(); err != nil {
		if fault, ok := asRemoteFault(err); ok {
			return nil, fault
		}
		return nil, fmt.Errorf("magento: failed to parse xml-rpc fault: %w", err)
	}
	var out any
	if err := resp.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("magento: failed to parse xml-rpc response: %w", err)
	}
	return jsonNumbers(out), nil
}

func asRemoteFault(err error) (*integration.RemoteFault, bool) {
	var fault xmlrpc.FaultError
	if errors.As(err, &fault) {
		return &integration.RemoteFault{Code: fault.Code, Message: fault.String}, true
	}
	var ptr *xmlrpc.FaultError
	if errors.As(err, &ptr) && ptr != nil {
		return &integration.RemoteFault{Code: ptr.Code, Message: ptr.String}, true
	}
	return nil, false
}

// jsonNumbers turns decoded integers into float64 throughout v.
func jsonNumbers(v any) any {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case map[string]any:
		for k, item := range val {
			val[k] = jsonNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = jsonNumbers(item)
		}
		return val
	}
	return v
}

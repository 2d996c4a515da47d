package packet

import "reflect"

// asUint8 converts a decoded tuple element to a uint8 regardless of which
// concrete numeric Go type the binary codec library chose to represent it
// as (msgpack and cbor both decode positive integers into interface{} using
// library-specific kinds — int8, int64, uint64, ... depending on magnitude
// and library version).
func asUint8(v any) (uint8, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint8(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uint8(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return uint8(rv.Float()), true
	default:
		return 0, false
	}
}

package querycache

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Params are the raw parameters of a query. Values are normalized by NewKey.
type Params map[string]any

// Key is the deterministic identity of a cached read: an endpoint plus its
// normalized parameters. Keys are comparable and can be used as map keys.
type Key struct {
	Endpoint string
	// Query is the canonical url-encoded form of the parameters, sorted by name.
	Query string
}

// NewKey builds a Key. Nil values, nil pointers, empty strings and empty slices are
// omitted, so a parameter that is absent and one that is unset produce the same Key.
func NewKey(endpoint string, params Params) Key {
	values := url.Values{}
	for name, raw := range params {
		for _, v := range normalize(raw) {
			values.Add(name, v)
		}
	}
	return Key{Endpoint: endpoint, Query: values.Encode()}
}

// String renders the key as endpoint?query.
func (k Key) String() string {
	if k.Query == "" {
		return k.Endpoint
	}
	return k.Endpoint + "?" + k.Query
}

// Values decodes the normalized parameters.
func (k Key) Values() url.Values {
	values, err := url.ParseQuery(k.Query)
	if err != nil {
		// Query is only ever produced by url.Values.Encode.
		return url.Values{}
	}
	return values
}

// Param returns the first value of a parameter, or "" when it was omitted.
func (k Key) Param(name string) string {
	return k.Values().Get(name)
}

func normalize(raw any) []string {
	if raw == nil {
		return nil
	}
	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			return single(string(rv.Bytes()))
		}
		var out []string
		for i := 0; i < rv.Len(); i++ {
			out = append(out, normalize(rv.Index(i).Interface())...)
		}
		return out
	}

	switch v := rv.Interface().(type) {
	case string:
		return single(v)
	case bool:
		return single(strconv.FormatBool(v))
	case time.Time:
		return single(v.UTC().Format(time.RFC3339))
	case time.Duration:
		return single(v.String())
	case fmt.Stringer:
		return single(v.String())
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return single(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return single(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return single(strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	case reflect.String:
		return single(rv.String())
	}
	return single(fmt.Sprintf("%v", rv.Interface()))
}

func single(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []string{s}
}

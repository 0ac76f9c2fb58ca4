// Package canon produces the canonical JSON form that every hash, HMAC and
// challenge in pledge is computed over.
//
// The canonical form is encoding/json output with HTML escaping disabled and
// no trailing newline. Struct fields serialize in declaration order, so types
// hashed through this package must declare their fields in wire order and
// must not be reordered.
//
// Every string must be valid UTF-8. encoding/json would otherwise replace
// each invalid byte with U+FFFD, and distinct inputs would hash alike.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned by Marshal when a string in v is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("string is not valid UTF-8")

// Marshal returns the canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	if err := CheckUTF8(v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sum256 returns SHA-256 over the canonical encoding of v along with the
// encoded bytes.
func Sum256(v any) ([32]byte, []byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return [32]byte{}, nil, err
	}
	return sha256.Sum256(b), b, nil
}

// CheckUTF8 walks the exported fields, map keys and elements of v and
// reports the first string that is not valid UTF-8, wrapping ErrInvalidUTF8.
func CheckUTF8(v any) error {
	return checkValue(reflect.ValueOf(v), "")
}

func checkValue(v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			if path == "" {
				return ErrInvalidUTF8
			}
			return fmt.Errorf("%s: %w", path, ErrInvalidUTF8)
		}
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			return checkValue(v.Elem(), path)
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				continue
			}
			if name == "" {
				name = f.Name
			}
			if err := checkValue(v.Field(i), join(path, name)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkValue(iter.Key(), path); err != nil {
				return err
			}
			if err := checkValue(iter.Value(), join(path, fmt.Sprint(iter.Key().Interface()))); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkValue(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

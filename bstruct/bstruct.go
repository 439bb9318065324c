package bstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
)

// ErrShortBuffer is returned by FromBytes when the source data is
// smaller than the encoded size of the struct.
var ErrShortBuffer = errors.New("buffer is smaller than struct")

// Byter is implemented by field types that know how to encode themselves.
type Byter interface {
	ToBytes(binary.ByteOrder) []byte
}

// FieldInfo describes a single encoded or decoded struct field.
type FieldInfo struct {
	Index  int
	Name   string
	Type   string
	Offset int
	Value  []byte
}

// StructToBytesOrExit calls StructToBytes. It calls DefaultExitFn
// if an error occurs.
func StructToBytesOrExit(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) []byte {
	b, err := StructToBytes(s, bo, optFn)
	if err != nil {
		DefaultExitFn(err)
	}

	return b
}

// StructToBytes encodes the fields of s in declaration order using
// the specified byte order. Supported field kinds are the unsigned
// integers, fixed-size byte arrays, and Byter implementations.
// Struct padding is never emitted.
//
// optFn, if non-nil, is called after each field is encoded.
func StructToBytes(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) ([]byte, error) {
	if s == nil {
		return nil, errors.New("struct is nil")
	}

	structValue := reflect.Indirect(reflect.ValueOf(s))
	if structValue.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct - got %T", s)
	}

	structType := structValue.Type()

	var b []byte

	for i := 0; i < structValue.NumField(); i++ {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		at := len(b)

		if byter, ok := fieldValue.Interface().(Byter); ok {
			b = append(b, byter.ToBytes(bo)...)
		} else {
			switch fieldValue.Kind() {
			case reflect.Uint8:
				b = append(b, uint8(fieldValue.Uint()))
			case reflect.Uint16:
				b = append(b, make([]byte, 2)...)
				bo.PutUint16(b[at:], uint16(fieldValue.Uint()))
			case reflect.Uint32:
				b = append(b, make([]byte, 4)...)
				bo.PutUint32(b[at:], uint32(fieldValue.Uint()))
			case reflect.Uint64:
				b = append(b, make([]byte, 8)...)
				bo.PutUint64(b[at:], fieldValue.Uint())
			case reflect.Array:
				if field.Type.Elem().Kind() != reflect.Uint8 {
					return nil, fmt.Errorf("unsupported array type %s for field %q (index %d)",
						field.Type, field.Name, i)
				}

				for j := 0; j < fieldValue.Len(); j++ {
					b = append(b, uint8(fieldValue.Index(j).Uint()))
				}
			default:
				return nil, fmt.Errorf("unsupported data type %s for field %q (index %d)",
					field.Type, field.Name, i)
			}
		}

		if optFn != nil {
			err := optFn(FieldInfo{
				Index:  i,
				Name:   field.Name,
				Type:   field.Type.String(),
				Offset: at,
				Value:  b[at:],
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

// Size returns the number of bytes StructToBytes produces for
// a struct of the same type as s, excluding Byter fields.
func Size(s interface{}) (int, error) {
	structType := reflect.TypeOf(s)
	for structType != nil && structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}

	if structType == nil || structType.Kind() != reflect.Struct {
		return 0, fmt.Errorf("expected a struct - got %T", s)
	}

	size := 0

	for i := 0; i < structType.NumField(); i++ {
		n, err := fieldSize(structType.Field(i))
		if err != nil {
			return 0, err
		}

		size += n
	}

	return size, nil
}

func fieldSize(field reflect.StructField) (int, error) {
	switch field.Type.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(field.Type.Size()), nil
	case reflect.Array:
		if field.Type.Elem().Kind() == reflect.Uint8 {
			return field.Type.Len(), nil
		}
	}

	return 0, fmt.Errorf("unsupported data type %s for field %q",
		field.Type, field.Name)
}

// FromBytes decodes b into the struct pointed to by ptr. It is the
// inverse of StructToBytes for structs without Byter fields.
// Trailing data in b is ignored.
func FromBytes(b []byte, bo binary.ByteOrder, ptr interface{}) error {
	ptrValue := reflect.ValueOf(ptr)
	if ptrValue.Kind() != reflect.Ptr || ptrValue.IsNil() {
		return fmt.Errorf("expected a non-nil struct pointer - got %T", ptr)
	}

	structValue := ptrValue.Elem()
	if structValue.Kind() != reflect.Struct {
		return fmt.Errorf("expected a struct pointer - got %T", ptr)
	}

	structType := structValue.Type()

	at := 0

	for i := 0; i < structValue.NumField(); i++ {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		n, err := fieldSize(field)
		if err != nil {
			return err
		}

		if len(b)-at < n {
			return fmt.Errorf("failed to decode field %q at offset %d - %w",
				field.Name, at, ErrShortBuffer)
		}

		raw := b[at : at+n]

		switch field.Type.Kind() {
		case reflect.Uint8:
			fieldValue.SetUint(uint64(raw[0]))
		case reflect.Uint16:
			fieldValue.SetUint(uint64(bo.Uint16(raw)))
		case reflect.Uint32:
			fieldValue.SetUint(uint64(bo.Uint32(raw)))
		case reflect.Uint64:
			fieldValue.SetUint(bo.Uint64(raw))
		case reflect.Array:
			reflect.Copy(fieldValue, reflect.ValueOf(raw))
		}

		at += n
	}

	return nil
}

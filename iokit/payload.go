package iokit

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gitlab.com/stephen-fox/elfstr/bstruct"
)

// NewPayloadBuilder instantiates a new PayloadBuilder.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{}
}

// PayloadBuilder helps build binary sequences such as file images
// by implementing the "builder pattern".
//
// For methods that take endianness as an optional argument,
// the default is little endian. The default endianness can
// be overridden using SetEndianness.
//
// The first error encountered is saved, and all subsequent
// calls become no-ops. The error is reported by Build.
type PayloadBuilder struct {
	buf bytes.Buffer
	bo  binary.ByteOrder
	err error
}

// SetEndianness sets the default endianness for the methods that take
// endianness as an optional argument.
func (o *PayloadBuilder) SetEndianness(order binary.ByteOrder) *PayloadBuilder {
	o.bo = order

	return o
}

func (o *PayloadBuilder) getEndianness(optOrder ...binary.ByteOrder) binary.ByteOrder {
	switch len(optOrder) {
	case 0:
		if o.bo == nil {
			return binary.LittleEndian
		}
		return o.bo
	case 1:
		return optOrder[0]
	default:
		panic("only one binary.ByteOrder may be specified")
	}
}

// Len returns the number of bytes written so far.
func (o *PayloadBuilder) Len() int {
	return o.buf.Len()
}

// Uint16 writes an unsigned 16-bit integer to the payload.
func (o *PayloadBuilder) Uint16(u uint16, optOrder ...binary.ByteOrder) *PayloadBuilder {
	b := make([]byte, 2)

	o.getEndianness(optOrder...).PutUint16(b, u)

	return o.Bytes(b)
}

// Uint32 writes an unsigned 32-bit integer to the payload.
// The endianness can be specified by the optOrder argument.
// If the optOrder argument is unspecified, the default
// endianness set by SetEndianness will be used.
func (o *PayloadBuilder) Uint32(u uint32, optOrder ...binary.ByteOrder) *PayloadBuilder {
	b := make([]byte, 4)

	o.getEndianness(optOrder...).PutUint32(b, u)

	return o.Bytes(b)
}

// Uint64 writes an unsigned 64-bit integer to the payload.
// The endianness can be specified by the optOrder argument.
// If the optOrder argument is unspecified, the default
// endianness set by SetEndianness will be used.
func (o *PayloadBuilder) Uint64(u uint64, optOrder ...binary.ByteOrder) *PayloadBuilder {
	b := make([]byte, 8)

	o.getEndianness(optOrder...).PutUint64(b, u)

	return o.Bytes(b)
}

// Struct encodes s with bstruct.StructToBytes and writes the
// result to the payload.
func (o *PayloadBuilder) Struct(s interface{}, optOrder ...binary.ByteOrder) *PayloadBuilder {
	if o.err != nil {
		return o
	}

	b, err := bstruct.StructToBytes(s, o.getEndianness(optOrder...), nil)
	if err != nil {
		o.err = fmt.Errorf("failed to encode %T - %w", s, err)
		return o
	}

	return o.Bytes(b)
}

// Bytes writes the specified []byte to the payload.
func (o *PayloadBuilder) Bytes(b []byte) *PayloadBuilder {
	if o.err != nil {
		return o
	}

	o.buf.Write(b)

	return o
}

// String writes the specified string to the payload.
func (o *PayloadBuilder) String(str string) *PayloadBuilder {
	if o.err != nil {
		return o
	}

	o.buf.WriteString(str)

	return o
}

// RepeatString repeatedly writes the specified string to the payload.
func (o *PayloadBuilder) RepeatString(str string, count int) *PayloadBuilder {
	if count < 0 {
		o.err = fmt.Errorf("repeat count cannot be negative (%d)", count)
	}

	if o.err != nil {
		return o
	}

	for i := 0; i < count; i++ {
		o.buf.WriteString(str)
	}

	return o
}

// Align pads the payload with zero bytes until its length is
// a multiple of n.
func (o *PayloadBuilder) Align(n int) *PayloadBuilder {
	if n <= 0 {
		o.err = fmt.Errorf("alignment must be greater than zero (%d)", n)
	}

	if o.err != nil {
		return o
	}

	if rem := o.buf.Len() % n; rem != 0 {
		o.buf.Write(make([]byte, n-rem))
	}

	return o
}

// BuildOrExit calls Build. It calls DefaultExitFn if an error occurs.
func (o *PayloadBuilder) BuildOrExit() []byte {
	b, err := o.Build()
	if err != nil {
		DefaultExitFn(err)
	}

	return b
}

// Build returns the payload as a []byte.
func (o *PayloadBuilder) Build() ([]byte, error) {
	if o.err != nil {
		return nil, fmt.Errorf("failed to build payload - %w", o.err)
	}

	return o.buf.Bytes(), nil
}

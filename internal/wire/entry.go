package wire

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
)

// AppendToken appends the encoding of t to b.
func AppendToken(b []byte, t clock.Token) []byte {
	if t.Mode != clock.Distributed {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.Mode))
	}
	if t.Counter != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, t.Counter)
	}
	if t.Node != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, t.Node)
	}
	return b
}

// ConsumeToken decodes a token from b.
func ConsumeToken(b []byte) (clock.Token, error) {
	var t clock.Token
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			t.Mode = clock.Mode(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			t.Counter = v
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			t.Node = string(v)
			return n, err
		}
		return 0, nil
	})
	return t, errors.Wrap(err, "decode token")
}

// AppendEntry appends the encoding of e to b.
func AppendEntry(b []byte, e entry.Entry) []byte {
	if e.Key != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, e.Key)
	}
	if e.Value != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Value)
	}
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, AppendToken(nil, e.Token))
	if e.Origin != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, e.Origin)
	}
	return b
}

// ConsumeEntry decodes an entry from b. The returned value does not alias b.
func ConsumeEntry(b []byte) (entry.Entry, error) {
	var e entry.Entry
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			e.Key = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			e.Value = append([]byte{}, v...)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			e.Token, err = ConsumeToken(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			e.Origin = string(v)
			return n, err
		}
		return 0, nil
	})
	return e, errors.Wrap(err, "decode entry")
}

// MarshalEntry encodes e.
func MarshalEntry(e entry.Entry) []byte {
	return AppendEntry(nil, e)
}

// UnmarshalEntry decodes an entry.
func UnmarshalEntry(b []byte) (entry.Entry, error) {
	return ConsumeEntry(b)
}

// consumeFields walks the fields of a message. fn returns the number of
// bytes it consumed for the field value, or 0 to have the field skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return errors.Wrapf(err, "field %d", num)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errors.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errors.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

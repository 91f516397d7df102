package wire

import (
	"github.com/pkg/errors"
)

// CodecName is the content-subtype the codec registers under.
const CodecName = "gridcache"

// Codec implements grpc's encoding.Codec for Message values.
type Codec struct{}

// Marshal encodes v, which must be a Message.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, errors.Errorf("wire: cannot marshal %T", v)
	}
	return m.AppendWire(nil), nil
}

// Unmarshal decodes data into v, which must be a Message.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return errors.Errorf("wire: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

// Name returns CodecName.
func (Codec) Name() string {
	return CodecName
}

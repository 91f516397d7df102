package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
)

// Message is implemented by every request and response exchanged between nodes.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

// ApplyRequest asks a replica to resolve an entry into its store.
type ApplyRequest struct {
	Cache string
	Entry entry.Entry
}

// ApplyResponse reports whether the replica's stored entry changed, and
// the token it holds for the key afterwards.
type ApplyResponse struct {
	Changed bool
	Held    clock.Token
}

// GetRequest reads a replica's local entry.
type GetRequest struct {
	Cache string
	Key   string
}

// GetResponse carries the local entry, if any.
type GetResponse struct {
	Found bool
	Entry entry.Entry
}

// SeqRequest asks the primary of Key for the next Coordinated token. A
// non-zero Floor is a counter already committed for Key; the token returned
// is above it.
type SeqRequest struct {
	Cache string
	Key   string
	From  string
	Floor uint64
}

// SeqResponse carries the assigned token.
type SeqResponse struct {
	Token clock.Token
}

// PingRequest probes liveness.
type PingRequest struct {
	From string
}

// PingResponse identifies the responding node.
type PingResponse struct {
	Node string
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func (m *ApplyRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Cache)
	return appendMessage(b, 2, AppendEntry(nil, m.Entry))
}

func (m *ApplyRequest) UnmarshalWire(b []byte) error {
	*m = ApplyRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			m.Cache = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			m.Entry, err = ConsumeEntry(v)
			return n, err
		}
		return 0, nil
	})
}

func (m *ApplyResponse) AppendWire(b []byte) []byte {
	b = appendBool(b, 1, m.Changed)
	if m.Held.IsZero() {
		return b
	}
	return appendMessage(b, 2, AppendToken(nil, m.Held))
}

func (m *ApplyResponse) UnmarshalWire(b []byte) error {
	*m = ApplyResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Changed = protowire.DecodeBool(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			m.Held, err = ConsumeToken(v)
			return n, err
		}
		return 0, nil
	})
}

func (m *GetRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Cache)
	return appendString(b, 2, m.Key)
}

func (m *GetRequest) UnmarshalWire(b []byte) error {
	*m = GetRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			m.Cache = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			m.Key = string(v)
			return n, err
		}
		return 0, nil
	})
}

func (m *GetResponse) AppendWire(b []byte) []byte {
	b = appendBool(b, 1, m.Found)
	if !m.Found {
		return b
	}
	return appendMessage(b, 2, AppendEntry(nil, m.Entry))
}

func (m *GetResponse) UnmarshalWire(b []byte) error {
	*m = GetResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Found = protowire.DecodeBool(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			m.Entry, err = ConsumeEntry(v)
			return n, err
		}
		return 0, nil
	})
}

func (m *SeqRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Cache)
	b = appendString(b, 2, m.Key)
	b = appendString(b, 3, m.From)
	if m.Floor == 0 {
		return b
	}
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	return protowire.AppendVarint(b, m.Floor)
}

func (m *SeqRequest) UnmarshalWire(b []byte) error {
	*m = SeqRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			m.Cache = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			m.Key = string(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			m.From = string(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(typ, b)
			m.Floor = v
			return n, err
		}
		return 0, nil
	})
}

func (m *SeqResponse) AppendWire(b []byte) []byte {
	return appendMessage(b, 1, AppendToken(nil, m.Token))
}

func (m *SeqResponse) UnmarshalWire(b []byte) error {
	*m = SeqResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			m.Token, err = ConsumeToken(v)
			return n, err
		}
		return 0, nil
	})
}

func (m *PingRequest) AppendWire(b []byte) []byte {
	return appendString(b, 1, m.From)
}

func (m *PingRequest) UnmarshalWire(b []byte) error {
	*m = PingRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, b)
			m.From = string(v)
			return n, err
		}
		return 0, nil
	})
}

func (m *PingResponse) AppendWire(b []byte) []byte {
	return appendString(b, 1, m.Node)
}

func (m *PingResponse) UnmarshalWire(b []byte) error {
	*m = PingResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, b)
			m.Node = string(v)
			return n, err
		}
		return 0, nil
	})
}

package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Format identifies how a snapshot payload is encoded.
type Format uint8

const (
	// FormatBinary is a protobuf-wire payload.
	FormatBinary Format = iota + 1
	// FormatJSON is an encoding/json payload.
	FormatJSON
)

// Frame constants
const (
	DefaultMaxSize = 10 * 1024 * 1024 // 10MB
	HeaderSize     = 5                // 1 byte format + 4 bytes length
)

var (
	// ErrInvalidSnapshot is returned when a payload cannot be decoded.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrSnapshotTooLarge is returned when a payload exceeds the codec's limit.
	ErrSnapshotTooLarge = errors.New("snapshot too large")
	// ErrUnknownFormat is returned for an unsupported format tag or name.
	ErrUnknownFormat = errors.New("unknown snapshot format")
)

// Protobuf field numbers.
const (
	fieldReplicaID protowire.Number = 1
	fieldAdded     protowire.Number = 2
	fieldRemoved   protowire.Number = 3

	fieldElement   protowire.Number = 1
	fieldTimestamp protowire.Number = 2
)

// ParseFormat parses "binary" or "json".
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "binary", "protobuf":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, errors.Wrapf(ErrUnknownFormat, "%q", name)
	}
}

// String returns the format's name.
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Codec frames and encodes snapshots.
type Codec struct {
	maxSize int
}

// NewCodec creates a codec rejecting frames larger than maxSize bytes. A
// maxSize that cannot hold a header selects DefaultMaxSize.
func NewCodec(maxSize int) *Codec {
	if maxSize <= HeaderSize {
		maxSize = DefaultMaxSize
	}
	return &Codec{maxSize: maxSize}
}

var defaultCodec = NewCodec(DefaultMaxSize)

// Encode encodes snap with the default codec.
func Encode(snap *Snapshot, format Format) ([]byte, error) {
	return defaultCodec.Encode(snap, format)
}

// Decode decodes a frame with the default codec.
func Decode(data []byte) (*Snapshot, error) {
	return defaultCodec.Decode(data)
}

// Encode returns the framed encoding of snap.
func (c *Codec) Encode(snap *Snapshot, format Format) ([]byte, error) {
	if snap == nil {
		return nil, errors.Wrap(ErrInvalidSnapshot, "nil snapshot")
	}

	var payload []byte
	switch format {
	case FormatBinary:
		payload = marshalBinary(snap)
	case FormatJSON:
		var err error
		payload, err = json.Marshal(snap)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal snapshot")
		}
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "tag %d", format)
	}

	if len(payload) > c.maxSize-HeaderSize {
		return nil, errors.Wrapf(ErrSnapshotTooLarge, "%d bytes", len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(format)
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// Decode parses a frame produced by Encode, detecting its format.
func (c *Codec) Decode(data []byte) (*Snapshot, error) {
	if len(data) < HeaderSize {
		return nil, errors.Wrap(ErrInvalidSnapshot, "short header")
	}

	format := Format(data[0])
	payloadLen := binary.BigEndian.Uint32(data[1:HeaderSize])

	if int64(payloadLen) > int64(c.maxSize-HeaderSize) {
		return nil, errors.Wrapf(ErrSnapshotTooLarge, "%d bytes", payloadLen)
	}
	if int(payloadLen) != len(data)-HeaderSize {
		return nil, errors.Wrapf(ErrInvalidSnapshot, "payload length %d, have %d bytes", payloadLen, len(data)-HeaderSize)
	}
	payload := data[HeaderSize:]

	switch format {
	case FormatBinary:
		snap, err := unmarshalBinary(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal snapshot")
		}
		return snap, nil
	case FormatJSON:
		snap := &Snapshot{}
		if err := json.Unmarshal(payload, snap); err != nil {
			return nil, errors.Wrap(errors.Mark(err, ErrInvalidSnapshot), "failed to unmarshal snapshot")
		}
		return snap, nil
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "tag %d", format)
	}
}

func marshalBinary(snap *Snapshot) []byte {
	var b []byte
	if snap.ReplicaID != "" {
		b = protowire.AppendTag(b, fieldReplicaID, protowire.BytesType)
		b = protowire.AppendString(b, snap.ReplicaID)
	}
	for _, e := range snap.Added {
		b = protowire.AppendTag(b, fieldAdded, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntry(e))
	}
	for _, e := range snap.Removed {
		b = protowire.AppendTag(b, fieldRemoved, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntry(e))
	}
	return b
}

func marshalEntry(e Entry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldElement, protowire.BytesType)
	b = protowire.AppendString(b, e.Element)
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Timestamp))
	return b
}

func unmarshalBinary(b []byte) (*Snapshot, error) {
	snap := &Snapshot{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case num == fieldReplicaID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
			}
			snap.ReplicaID = v
			b = b[n:]

		case (num == fieldAdded || num == fieldRemoved) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
			}
			e, err := unmarshalEntry(v)
			if err != nil {
				return nil, err
			}
			if num == fieldAdded {
				snap.Added = append(snap.Added, e)
			} else {
				snap.Removed = append(snap.Removed, e)
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
			}
			b = b[n:]
		}
	}
	return snap, nil
}

func unmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case num == fieldElement && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
			}
			e.Element = v
			b = b[n:]

		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
			}
			e.Timestamp = protowire.DecodeZigZag(v)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, errors.Wrap(ErrInvalidSnapshot, protowire.ParseError(n).Error())
			}
			b = b[n:]
		}
	}
	return e, nil
}

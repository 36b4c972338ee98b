package membership

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// RecordCodec serializes node records for the membership directory.
type RecordCodec interface {
	Encode(record NodeRecord) ([]byte, error)
	Decode(data []byte, record *NodeRecord) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) RecordCodec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{}
	}
	return &JSONCodec{}
}

// ParseCodecType maps a config name ("json", "binary") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown record codec %q", name)
}

// JSONCodec stores records as JSON, readable with etcdctl.
type JSONCodec struct{}

type jsonRecord struct {
	Endpoint   string   `json:"endpoint"`
	Generation int64    `json:"generation"`
	ActorTypes []string `json:"actorTypes,omitempty"`
	Version    string   `json:"version,omitempty"`
}

func (c *JSONCodec) Encode(record NodeRecord) ([]byte, error) {
	return json.Marshal(jsonRecord{
		Endpoint:   record.Address.Endpoint,
		Generation: record.Address.Generation,
		ActorTypes: record.ActorTypes,
		Version:    record.Version,
	})
}

func (c *JSONCodec) Decode(data []byte, record *NodeRecord) error {
	var r jsonRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	record.Address.Endpoint = r.Endpoint
	record.Address.Generation = r.Generation
	record.ActorTypes = r.ActorTypes
	record.Version = r.Version
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

var errShortBuffer = errors.New("BinaryCodec: short buffer")

// BinaryCodec is a compact big-endian layout:
//
//	endpoint(2+n) | generation(8) | version(2+n) | count(2) | actorType(2+n)...
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(record NodeRecord) ([]byte, error) {
	total := 2 + len(record.Address.Endpoint) + 8 + 2 + len(record.Version) + 2
	for _, t := range record.ActorTypes {
		total += 2 + len(t)
	}
	buf := make([]byte, 0, total)

	var err error
	if buf, err = appendString(buf, record.Address.Endpoint); err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(record.Address.Generation))
	if buf, err = appendString(buf, record.Version); err != nil {
		return nil, err
	}
	if len(record.ActorTypes) > 0xFFFF {
		return nil, errors.New("BinaryCodec: too many actor types")
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(record.ActorTypes)))
	for _, t := range record.ActorTypes {
		if buf, err = appendString(buf, t); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, record *NodeRecord) error {
	r := reader{data: data}

	endpoint := r.string()
	generation := r.uint64()
	version := r.string()
	count := r.uint16()
	var types []string
	if count > 0 {
		types = make([]string, 0, count)
		for i := 0; i < int(count); i++ {
			types = append(types, r.string())
		}
	}
	if r.err != nil {
		return r.err
	}

	record.Address.Endpoint = endpoint
	record.Address.Generation = int64(generation)
	record.Version = version
	record.ActorTypes = types
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > 0xFFFF {
		return nil, fmt.Errorf("BinaryCodec: field of %d bytes too long", len(s))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

// reader records the first short read and returns zero values after it.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) string() string {
	n := r.uint16()
	return string(r.take(int(n)))
}

package boltstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepaksharma/agenttrace/tracer"
)

// Binary record format:
//   - Magic (4 bytes): "ATRC"
//   - Version (1 byte): 1
//   - TraceID, SpanID, ParentSpanID, Name: length-prefixed strings
//   - Kind (1 byte), Status (1 byte)
//   - StartedAt (8 bytes, unix nanos), EndedAt (8 bytes, 0 = open/snapshot)
//   - Attributes: length-prefixed JSON array of {"k":...,"v":...}
//   - Resource attributes: length-prefixed JSON array, same shape
//   - Scope name, scope version: length-prefixed strings
const (
	serializationMagic   = "ATRC"
	serializationVersion = byte(1)
)

type attrPair struct {
	K string `json:"k"`
	V any    `json:"v"`
}

func encodeAttrs(attrs []tracer.Attr) []byte {
	pairs := make([]attrPair, 0, len(attrs))
	for _, a := range attrs {
		v := a.Value
		if _, err := json.Marshal(v); err != nil {
			// Unencodable values are stringified rather than failing the
			// whole record.
			v = fmt.Sprint(v)
		}
		pairs = append(pairs, attrPair{K: a.Key, V: v})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return []byte("[]")
	}
	return data
}

func decodeAttrs(data []byte) ([]tracer.Attr, error) {
	var pairs []attrPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	attrs := make([]tracer.Attr, 0, len(pairs))
	for _, p := range pairs {
		attrs = append(attrs, tracer.Attr{Key: p.K, Value: p.V})
	}
	return attrs, nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func readString(buf *bytes.Reader) (string, error) {
	b, err := readBytes(buf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(buf *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if int(n) > buf.Len() {
		return nil, fmt.Errorf("corrupt record: section length %d exceeds remaining %d", n, buf.Len())
	}
	b := make([]byte, n)
	if _, err := buf.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func serializeTrace(tc *tracer.Trace) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(serializationMagic)
	buf.WriteByte(serializationVersion)

	writeString(buf, tc.TraceID)
	writeString(buf, tc.SpanID)
	writeString(buf, tc.ParentSpanID)
	writeString(buf, tc.Name)
	buf.WriteByte(byte(tc.Kind))
	buf.WriteByte(byte(tc.Status))

	_ = binary.Write(buf, binary.BigEndian, tc.StartedAt.UnixNano())
	var ended int64
	if tc.Ended() {
		ended = tc.EndedAt.UnixNano()
	}
	_ = binary.Write(buf, binary.BigEndian, ended)

	writeBytes(buf, encodeAttrs(tc.Attrs()))
	writeBytes(buf, encodeAttrs(tc.Resource.Attrs()))
	writeString(buf, tc.Scope.Name)
	writeString(buf, tc.Scope.Version)

	return buf.Bytes()
}

func deserializeTrace(data []byte) (*tracer.Trace, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("invalid record: too short (%d bytes)", len(data))
	}
	if string(data[:4]) != serializationMagic {
		return nil, fmt.Errorf("invalid magic bytes: %q", data[:4])
	}
	if data[4] != serializationVersion {
		return nil, fmt.Errorf("unsupported record version: %d", data[4])
	}

	buf := bytes.NewReader(data[5:])
	tc := &tracer.Trace{}

	var err error
	if tc.TraceID, err = readString(buf); err != nil {
		return nil, fmt.Errorf("failed to read trace ID: %w", err)
	}
	if tc.SpanID, err = readString(buf); err != nil {
		return nil, fmt.Errorf("failed to read span ID: %w", err)
	}
	if tc.ParentSpanID, err = readString(buf); err != nil {
		return nil, fmt.Errorf("failed to read parent span ID: %w", err)
	}
	if tc.Name, err = readString(buf); err != nil {
		return nil, fmt.Errorf("failed to read name: %w", err)
	}

	kind, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read kind: %w", err)
	}
	tc.Kind = tracer.SpanKind(kind)
	status, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	tc.Status = tracer.SpanStatus(status)

	var started, ended int64
	if err := binary.Read(buf, binary.BigEndian, &started); err != nil {
		return nil, fmt.Errorf("failed to read start time: %w", err)
	}
	if err := binary.Read(buf, binary.BigEndian, &ended); err != nil {
		return nil, fmt.Errorf("failed to read end time: %w", err)
	}
	tc.StartedAt = time.Unix(0, started).UTC()
	if ended != 0 {
		tc.EndedAt = time.Unix(0, ended).UTC()
	}

	attrData, err := readBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}
	attrs, err := decodeAttrs(attrData)
	if err != nil {
		return nil, err
	}
	tc.RestoreAttrs(attrs)

	resData, err := readBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource attributes: %w", err)
	}
	resAttrs, err := decodeAttrs(resData)
	if err != nil {
		return nil, err
	}
	tc.Resource = tracer.NewResource(resAttrs...)

	if tc.Scope.Name, err = readString(buf); err != nil {
		return nil, fmt.Errorf("failed to read scope name: %w", err)
	}
	if tc.Scope.Version, err = readString(buf); err != nil {
		return nil, fmt.Errorf("failed to read scope version: %w", err)
	}

	return tc, nil
}

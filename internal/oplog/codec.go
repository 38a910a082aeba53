package oplog

import (
	"encoding/binary"
	"fmt"

	"github.com/acoustid-go/fpindex/pkg/varint"
)

// encodeOperation serializes one Operation: a one-byte kind tag followed by
// a kind-specific payload using the same varint primitives as the segment
// file formats.
func encodeOperation(op Operation) ([]byte, error) {
	switch op.Kind {
	case OpInsertOrUpdateDocument:
		buf := make([]byte, 1, 1+varint.MaxBytes*(2+len(op.Terms)))
		buf[0] = byte(OpInsertOrUpdateDocument)
		buf = appendVarint(buf, op.DocID)
		buf = appendVarint(buf, uint32(len(op.Terms)))
		for _, term := range op.Terms {
			buf = appendVarint(buf, term)
		}
		return buf, nil
	case OpDeleteDocument:
		buf := make([]byte, 1, 1+varint.MaxBytes)
		buf[0] = byte(OpDeleteDocument)
		buf = appendVarint(buf, op.DocID)
		return buf, nil
	case OpSetAttribute:
		buf := []byte{byte(OpSetAttribute)}
		buf = appendString(buf, op.AttrName)
		buf = appendString(buf, op.AttrValue)
		return buf, nil
	default:
		return nil, fmt.Errorf("oplog: unknown operation kind %d", op.Kind)
	}
}

func decodeOperation(buf []byte) (Operation, error) {
	if len(buf) < 1 {
		return Operation{}, fmt.Errorf("oplog: empty operation record")
	}
	kind := OpKind(buf[0])
	off := 1
	switch kind {
	case OpInsertOrUpdateDocument:
		docID, n, err := varint.Get(buf[off:])
		if err != nil {
			return Operation{}, fmt.Errorf("oplog: decoding docId: %w", err)
		}
		off += n
		count, n, err := varint.Get(buf[off:])
		if err != nil {
			return Operation{}, fmt.Errorf("oplog: decoding term count: %w", err)
		}
		off += n
		terms := make([]uint32, count)
		for i := range terms {
			term, n, err := varint.Get(buf[off:])
			if err != nil {
				return Operation{}, fmt.Errorf("oplog: decoding term %d: %w", i, err)
			}
			off += n
			terms[i] = term
		}
		return Operation{Kind: kind, DocID: docID, Terms: terms}, nil
	case OpDeleteDocument:
		docID, _, err := varint.Get(buf[off:])
		if err != nil {
			return Operation{}, fmt.Errorf("oplog: decoding docId: %w", err)
		}
		return Operation{Kind: kind, DocID: docID}, nil
	case OpSetAttribute:
		name, n, err := readString(buf[off:])
		if err != nil {
			return Operation{}, fmt.Errorf("oplog: decoding attribute name: %w", err)
		}
		off += n
		value, _, err := readString(buf[off:])
		if err != nil {
			return Operation{}, fmt.Errorf("oplog: decoding attribute value: %w", err)
		}
		return Operation{Kind: kind, AttrName: name, AttrValue: value}, nil
	default:
		return Operation{}, fmt.Errorf("oplog: unknown operation kind %d", kind)
	}
}

func appendVarint(buf []byte, v uint32) []byte {
	tmp := make([]byte, varint.MaxBytes)
	n := varint.Put(tmp, v)
	return append(buf, tmp[:n]...)
}

func appendString(buf []byte, s string) []byte {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(s)))
	buf = append(buf, lenBuf...)
	return append(buf, s...)
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("oplog: truncated string length")
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if uint32(len(buf)-4) < length {
		return "", 0, fmt.Errorf("oplog: truncated string contents")
	}
	return string(buf[4 : 4+length]), int(4 + length), nil
}

package block

import "testing"

func TestBuilderEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBuilder(DefaultSize)
	pairs := []Pair{
		{Key: 10, DocID: 1},
		{Key: 10, DocID: 2},
		{Key: 15, DocID: 1},
		{Key: 20, DocID: 3},
	}
	for _, p := range pairs {
		if !b.Add(p) {
			t.Fatalf("Add(%v) unexpectedly reported overflow", p)
		}
	}
	if b.Len() != len(pairs) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(pairs))
	}
	if b.FirstKey() != 10 || b.LastKey() != 20 {
		t.Fatalf("FirstKey/LastKey = %d/%d, want 10/20", b.FirstKey(), b.LastKey())
	}

	encoded := b.Finish()
	if len(encoded) != DefaultSize {
		t.Fatalf("Finish() returned %d bytes, want %d", len(encoded), DefaultSize)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(pairs) {
		t.Fatalf("Decode returned %d pairs, want %d", len(decoded), len(pairs))
	}
	for i, p := range pairs {
		if decoded[i] != p {
			t.Fatalf("pair %d = %v, want %v", i, decoded[i], p)
		}
	}
}

func TestBuilderOverflow(t *testing.T) {
	b := NewBuilder(headerSize + maxPairBytes)
	if !b.Add(Pair{Key: 1, DocID: 1}) {
		t.Fatalf("first Add should always succeed in a block sized for one pair")
	}
	if b.Add(Pair{Key: 0xFFFFFFFF, DocID: 0xFFFFFFFF}) {
		t.Fatalf("Add should report overflow once the block is full")
	}
}

func TestDecodeEmptyBlockIsIllegal(t *testing.T) {
	buf := make([]byte, DefaultSize)
	if _, err := Decode(buf); err != ErrEmptyBlock {
		t.Fatalf("Decode(empty) = %v, want ErrEmptyBlock", err)
	}
}

func TestLookupFiltersByKey(t *testing.T) {
	pairs := []Pair{
		{Key: 5, DocID: 1},
		{Key: 5, DocID: 2},
		{Key: 9, DocID: 3},
	}
	var got []uint32
	Lookup(pairs, 5, func(docID uint32) { got = append(got, docID) })
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Lookup(5) = %v, want [1 2]", got)
	}
}

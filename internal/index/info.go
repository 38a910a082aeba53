// Package index implements the index façade: the open/close lifecycle,
// the writer/reader gate, atomic revision commits, and the search/apply
// entry points that tie the op-log, staging index and on-disk segments
// together.
package index

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/acoustid-go/fpindex/internal/segment"
	"github.com/acoustid-go/fpindex/internal/store"
)

// infoFileVersion is the format version written into every info_N header.
const infoFileVersion = 1

// Info is one immutable revision snapshot of the index: the committed
// segment list, the attribute map, and the op-log id this revision has
// fully materialized.
type Info struct {
	Revision    uint64
	LastOplogID uint64
	Attributes  map[string]string
	Segments    []segment.Info
}

func infoFileName(revision uint64) string {
	return fmt.Sprintf("info_%d", revision)
}

// LoadInfo finds the greatest revision N for which info_N exists and
// parses it. It returns (Info{Revision: 0}, false, nil) if no info file
// exists at all — the caller decides whether that's NotFound or "create".
func LoadInfo(dir store.Directory) (Info, bool, error) {
	names, err := dir.ListFiles()
	if err != nil {
		return Info{}, false, fmt.Errorf("index: listing directory: %w", err)
	}

	var best uint64
	found := false
	for _, name := range names {
		var rev uint64
		if n, _ := fmt.Sscanf(name, "info_%d", &rev); n == 1 {
			if !found || rev > best {
				best = rev
				found = true
			}
		}
	}
	if !found {
		return Info{}, false, nil
	}

	in, err := dir.OpenInput(infoFileName(best))
	if err != nil {
		return Info{}, false, fmt.Errorf("index: opening %s: %w", infoFileName(best), err)
	}
	defer in.Close()
	size, err := in.Size()
	if err != nil {
		return Info{}, false, fmt.Errorf("index: statting %s: %w", infoFileName(best), err)
	}
	buf := make([]byte, size)
	if _, err := in.ReadAt(buf, 0); err != nil {
		return Info{}, false, fmt.Errorf("index: reading %s: %w", infoFileName(best), err)
	}

	info, err := decodeInfo(buf)
	if err != nil {
		return Info{}, false, fmt.Errorf("index: decoding %s: %w", infoFileName(best), err)
	}
	return info, true, nil
}

// Save writes info as info_<info.Revision> using write-then-rename; the
// presence of that file with parseable contents is the atomic commit
// point.
func Save(dir store.Directory, info Info) error {
	out, err := dir.CreateOutput(infoFileName(info.Revision))
	if err != nil {
		return fmt.Errorf("index: creating %s: %w", infoFileName(info.Revision), err)
	}
	if _, err := out.Write(encodeInfo(info)); err != nil {
		out.Close()
		return fmt.Errorf("index: writing %s: %w", infoFileName(info.Revision), err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("index: publishing %s: %w", infoFileName(info.Revision), err)
	}
	return nil
}

func encodeInfo(info Info) []byte {
	buf := make([]byte, 0, 64+32*len(info.Segments))
	var tmp [8]byte

	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(tmp[:4], v)
		buf = append(buf, tmp[:4]...)
	}
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(tmp[:8], v)
		buf = append(buf, tmp[:8]...)
	}
	putString := func(s string) {
		putU32(uint32(len(s)))
		buf = append(buf, s...)
	}

	putU32(infoFileVersion)
	putU64(info.Revision)
	putU64(info.LastOplogID)

	keys := make([]string, 0, len(info.Attributes))
	for k := range info.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	putU32(uint32(len(keys)))
	for _, k := range keys {
		putString(k)
		putString(info.Attributes[k])
	}

	putU32(uint32(len(info.Segments)))
	for _, s := range info.Segments {
		putU64(s.ID)
		putU32(s.BlockCount)
		putU32(s.LastKey)
		putU32(s.Checksum)
	}
	return buf
}

func decodeInfo(buf []byte) (Info, error) {
	off := 0
	readU32 := func() (uint32, error) {
		if off+4 > len(buf) {
			return 0, fmt.Errorf("truncated u32 at offset %d", off)
		}
		v := binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if off+8 > len(buf) {
			return 0, fmt.Errorf("truncated u64 at offset %d", off)
		}
		v := binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		return v, nil
	}
	readString := func() (string, error) {
		n, err := readU32()
		if err != nil {
			return "", err
		}
		if off+int(n) > len(buf) {
			return "", fmt.Errorf("truncated string at offset %d", off)
		}
		s := string(buf[off : off+int(n)])
		off += int(n)
		return s, nil
	}

	version, err := readU32()
	if err != nil {
		return Info{}, err
	}
	if version != infoFileVersion {
		return Info{}, fmt.Errorf("unsupported info version %d", version)
	}
	revision, err := readU64()
	if err != nil {
		return Info{}, err
	}
	lastOplogID, err := readU64()
	if err != nil {
		return Info{}, err
	}

	attrCount, err := readU32()
	if err != nil {
		return Info{}, err
	}
	attrs := make(map[string]string, attrCount)
	for i := uint32(0); i < attrCount; i++ {
		k, err := readString()
		if err != nil {
			return Info{}, err
		}
		v, err := readString()
		if err != nil {
			return Info{}, err
		}
		attrs[k] = v
	}

	segCount, err := readU32()
	if err != nil {
		return Info{}, err
	}
	segs := make([]segment.Info, segCount)
	for i := uint32(0); i < segCount; i++ {
		id, err := readU64()
		if err != nil {
			return Info{}, err
		}
		blockCount, err := readU32()
		if err != nil {
			return Info{}, err
		}
		lastKey, err := readU32()
		if err != nil {
			return Info{}, err
		}
		checksum, err := readU32()
		if err != nil {
			return Info{}, err
		}
		segs[i] = segment.Info{ID: id, BlockCount: blockCount, LastKey: lastKey, Checksum: checksum}
	}

	return Info{Revision: revision, LastOplogID: lastOplogID, Attributes: attrs, Segments: segs}, nil
}

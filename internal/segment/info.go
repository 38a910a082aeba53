// Package segment implements the immutable on-disk segment: a block-
// structured posting store with a sparse key index, a per-segment doc-id
// tombstone/membership set, and a checksum validated at open.
package segment

import "fmt"

// Info describes one segment's identity and on-disk shape, as recorded in
// an IndexInfo revision.
type Info struct {
	ID         uint64
	BlockCount uint32
	LastKey    uint32
	Checksum   uint32
}

// DataFileName returns the name of the segment's packed-block data file.
func (i Info) DataFileName() string { return fmt.Sprintf("segment_%d.fid", i.ID) }

// IndexFileName returns the name of the segment's sparse key index file.
func (i Info) IndexFileName() string { return fmt.Sprintf("segment_%d.fii", i.ID) }

// DocsFileName returns the name of the segment's doc membership/tombstone file.
func (i Info) DocsFileName() string { return fmt.Sprintf("segment_%d.docs", i.ID) }

// FileNames returns all three file names that make up this segment.
func (i Info) FileNames() []string {
	return []string{i.DataFileName(), i.IndexFileName(), i.DocsFileName()}
}

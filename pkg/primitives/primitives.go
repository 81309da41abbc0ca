package primitives

// HashCode represents a hash value computed for keys, row references and
// partition routing. It is typically used for fast lookups, never for ordering.
type HashCode uint64

// SegmentID identifies a physical data segment (the storage unit a partition
// references). Segments are owned by the storage layer; the execution core
// only passes the identifier around.
type SegmentID uint64

// PageNumber represents a page number within a segment.
type PageNumber uint64

// SlotID represents a slot number within a page (for row storage).
type SlotID uint16

// ColumnID identifies a column within a schema by position.
type ColumnID uint32

// PartitionID identifies a partition within a table's partition set.
type PartitionID uint32

package core

// EntryType identifies the kind of mutation carried by a WAL entry. The value is
// written as the first byte of every framed entry in a segment file.
type EntryType byte

const (
	// EntryTypeInsertRow is a single-row insert into one device.
	EntryTypeInsertRow EntryType = 'I'
	// EntryTypeInsertTablet is a columnar multi-row insert into one device.
	EntryTypeInsertTablet EntryType = 'T'
	// EntryTypeDelete is a time-range deletion for a path.
	EntryTypeDelete EntryType = 'D'
)

// NoSearchIndex marks an entry that carries no consensus search index.
const NoSearchIndex int64 = -1

// IsInsert reports whether entries of this type carry a search index that
// advances the WAL watermark.
func (t EntryType) IsInsert() bool {
	return t == EntryTypeInsertRow || t == EntryTypeInsertTablet
}

func (t EntryType) String() string {
	switch t {
	case EntryTypeInsertRow:
		return "insert_row"
	case EntryTypeInsertTablet:
		return "insert_tablet"
	case EntryTypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

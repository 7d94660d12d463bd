package layout

import "path/filepath"

/////////////////////////////////////

// NAMING STANDARDS ON DISK

/////////////////////////////////////

// VOLUME: ROOT/SHARD/SHARD/FILE_ID.EXT  +  ROOT/current_dir_size.txt
const (
	// Size accounting log kept at the root of every volume
	DirSizeFile = "current_dir_size.txt"

	// Default scratch directory under the data dir
	ScratchDir = "tmp"

	// Suffix of files being staged in the scratch directory
	ScratchSuffix = ".part"

	// Default operation journal under the data dir
	BinlogFile = "binlog.dat"

	// Default reference index directory under the data dir
	IndexDir = "index"

	// Default audit ledger under the data dir
	LedgerFile = "ledger.db"

	// Node identity file under the data dir
	NodeIDFile = "volume.id"
)

/////////////////////////////////////

// PERMISSIONS

/////////////////////////////////////

const (
	DirPerm  = 0755
	FilePerm = 0644
)

func DirSizePath(root string) string {
	return filepath.Join(root, DirSizeFile)
}

func ScratchPath(scratchDir, fileID string) string {
	return filepath.Join(scratchDir, fileID+ScratchSuffix)
}

package volume_server

import (
	"github.com/rxanders35/fdfs/pkg/volume_server/dirsize"
)

type VolumeConfig struct {
	Name      string
	Path      string
	ReadWrite bool
	// Capacity is in bytes; 0 means unbounded.
	Capacity uint64
	Weight   int
}

// Volume is one storage root. Volumes are created by the Registry and live
// as long as it does.
type Volume struct {
	Name      string
	Root      string
	ReadWrite bool
	Capacity  uint64

	weight int
	size   *dirsize.Accountant
}

// Weight is what the placement selector sees. Read-only volumes are never
// picked.
func (v *Volume) Weight() int {
	if !v.ReadWrite {
		return 0
	}
	return v.weight
}

func (v *Volume) Used() uint64 {
	return v.size.Total()
}

func (v *Volume) hasRoomFor(n uint64) bool {
	return v.Capacity == 0 || v.Used()+n <= v.Capacity
}

type VolumeStat struct {
	Name      string `json:"name"`
	Root      string `json:"root"`
	ReadWrite bool   `json:"read_write"`
	Capacity  uint64 `json:"capacity_bytes"`
	Weight    int    `json:"weight"`
	Used      uint64 `json:"used_bytes"`
}

func (v *Volume) Stat() VolumeStat {
	return VolumeStat{
		Name:      v.Name,
		Root:      v.Root,
		ReadWrite: v.ReadWrite,
		Capacity:  v.Capacity,
		Weight:    v.weight,
		Used:      v.Used(),
	}
}

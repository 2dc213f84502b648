package disk

import (
	"os/exec"
	"strings"

	"howett.net/plist"
)

type diskutilPartition struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	VolumeName       string `plist:"VolumeName"`
	MountPoint       string `plist:"MountPoint"`
	Size             uint64 `plist:"Size"`
}

type diskutilDisk struct {
	DeviceIdentifier string              `plist:"DeviceIdentifier"`
	Size             uint64              `plist:"Size"`
	VolumeName       string              `plist:"VolumeName"`
	MountPoint       string              `plist:"MountPoint"`
	Partitions       []diskutilPartition `plist:"Partitions"`
}

type diskutilList struct {
	AllDisksAndPartitions []diskutilDisk `plist:"AllDisksAndPartitions"`
}

type diskutilInfo struct {
	MediaName                      string `plist:"MediaName"`
	TotalSize                      uint64 `plist:"TotalSize"`
	Internal                       bool   `plist:"Internal"`
	RemovableMediaOrExternalDevice bool   `plist:"RemovableMediaOrExternalDevice"`
}

type darwinEnumerator struct {
	opts     options
	diskutil func(args ...string) ([]byte, error)
}

func newPlatformEnumerator(o options) Enumerator {
	return &darwinEnumerator{
		opts: o,
		diskutil: func(args ...string) ([]byte, error) {
			return exec.Command("diskutil", args...).Output()
		},
	}
}

func (e *darwinEnumerator) List() ([]Disk, error) {
	out, err := e.diskutil("list", "-plist", "external", "physical")
	if err != nil {
		return nil, err
	}
	var list diskutilList
	if _, err := plist.Unmarshal(out, &list); err != nil {
		return nil, err
	}

	var ds []Disk
	for _, d := range list.AllDisksAndPartitions {
		if d.DeviceIdentifier == "" {
			continue
		}
		removable := true
		name := ""
		size := d.Size
		if info, err := e.info(d.DeviceIdentifier); err == nil {
			name = info.MediaName
			if info.TotalSize > 0 {
				size = info.TotalSize
			}
			removable = info.RemovableMediaOrExternalDevice || !info.Internal
		} else {
			debugf("diskutil info %s: %s", d.DeviceIdentifier, err)
		}

		// The raw node skips the buffer cache and is much faster to write.
		ds = append(ds, Disk{
			Path:      "/dev/r" + d.DeviceIdentifier,
			Name:      name,
			Size:      size,
			Removable: removable,
			Kind:      Raw,
		})
		if d.MountPoint != "" {
			ds = append(ds, Disk{
				Path:      d.MountPoint,
				Name:      d.VolumeName,
				Size:      size,
				Removable: removable,
				Kind:      Mounted,
			})
		}
		for _, p := range d.Partitions {
			if p.MountPoint == "" {
				continue
			}
			ds = append(ds, Disk{
				Path:      p.MountPoint,
				Name:      p.VolumeName,
				Size:      p.Size,
				Removable: removable,
				Kind:      Mounted,
			})
		}
	}
	return finalize(ds, e.opts), nil
}

func (e *darwinEnumerator) info(id string) (*diskutilInfo, error) {
	out, err := e.diskutil("info", "-plist", strings.TrimPrefix(id, "/dev/"))
	if err != nil {
		return nil, err
	}
	var info diskutilInfo
	if _, err := plist.Unmarshal(out, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

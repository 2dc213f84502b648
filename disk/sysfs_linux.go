package disk

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	psdisk "github.com/shirou/gopsutil/v3/disk"
)

const sectorSize = 512

// sysfsScanner finds removable drives without UDisks2, e.g. on headless
// systems or inside containers.
type sysfsScanner struct {
	root       string
	partitions func(all bool) ([]psdisk.PartitionStat, error)
	usage      func(path string) (*psdisk.UsageStat, error)
}

func newSysfsScanner(root string) *sysfsScanner {
	return &sysfsScanner{
		root:       root,
		partitions: psdisk.Partitions,
		usage:      psdisk.Usage,
	}
}

func (s *sysfsScanner) scan() ([]Disk, error) {
	blocks, err := filepath.Glob(filepath.Join(s.root, "block", "*"))
	if err != nil {
		return nil, err
	}

	mounts, err := s.partitions(false)
	if err != nil {
		debugf("cannot read mount table: %s", err)
		mounts = nil
	}

	var ds []Disk
	for _, b := range blocks {
		name := filepath.Base(b)
		if !s.isRemovable(b) {
			continue
		}
		dev := "/dev/" + name
		ds = append(ds, Disk{
			Path:      dev,
			Name:      modelName(b),
			Size:      readUint(filepath.Join(b, "size")) * sectorSize,
			Removable: true,
			Kind:      Raw,
		})

		for _, m := range mounts {
			if m.Mountpoint == "" || (m.Device != dev && !isPartitionOf(m.Device, dev)) {
				continue
			}
			var size uint64
			if u, err := s.usage(m.Mountpoint); err == nil {
				size = u.Total
			} else {
				debugf("cannot stat %s: %s", m.Mountpoint, err)
			}
			ds = append(ds, Disk{
				Path:      m.Mountpoint,
				Name:      filepath.Base(m.Mountpoint),
				Size:      size,
				Removable: true,
				Kind:      Mounted,
			})
		}
	}
	return ds, nil
}

// isRemovable trusts the kernel flag, but many USB sticks and card readers
// report 0 there, so anything hanging off a USB bus counts as well.
func (s *sysfsScanner) isRemovable(blockDir string) bool {
	if readUint(filepath.Join(blockDir, "removable")) == 1 {
		return true
	}
	target, err := filepath.EvalSymlinks(blockDir)
	if err != nil {
		return false
	}
	return strings.Contains(target, "/usb")
}

func modelName(blockDir string) string {
	model := readTrimmed(filepath.Join(blockDir, "device", "model"))
	vendor := readTrimmed(filepath.Join(blockDir, "device", "vendor"))
	return strings.TrimSpace(vendor + " " + model)
}

// isPartitionOf matches sdb1 to sdb and mmcblk0p1 / nvme0n1p1 to their disk.
func isPartitionOf(dev, disk string) bool {
	rest := strings.TrimPrefix(dev, disk)
	if rest == dev || rest == "" {
		return false
	}
	rest = strings.TrimPrefix(rest, "p")
	if rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readUint(path string) uint64 {
	n, err := strconv.ParseUint(readTrimmed(path), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

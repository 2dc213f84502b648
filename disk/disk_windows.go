package disk

import (
	"fmt"
	"strings"

	"github.com/StackExchange/wmi"
	"golang.org/x/sys/windows"
)

// Nullable WMI columns are pointers; empty card readers report no size.
type win32DiskDrive struct {
	DeviceID      string
	Model         *string
	Size          *uint64
	MediaType     *string
	InterfaceType *string
}

type windowsEnumerator struct {
	opts options
}

func newPlatformEnumerator(o options) Enumerator {
	return &windowsEnumerator{opts: o}
}

func (e *windowsEnumerator) List() ([]Disk, error) {
	var ds []Disk
	if e.opts.kinds&Raw != 0 {
		drives, err := physicalDrives()
		if err != nil {
			return nil, err
		}
		ds = append(ds, drives...)
	}
	if e.opts.kinds&Mounted != 0 {
		vols, err := removableVolumes()
		if err != nil {
			return nil, err
		}
		ds = append(ds, vols...)
	}
	return finalize(ds, e.opts), nil
}

func physicalDrives() ([]Disk, error) {
	var drives []win32DiskDrive
	q := "SELECT DeviceID, Model, Size, MediaType, InterfaceType FROM Win32_DiskDrive"
	if err := wmi.Query(q, &drives); err != nil {
		return nil, fmt.Errorf("WMI query failed: %w", err)
	}
	var ds []Disk
	for _, d := range drives {
		d.DeviceID = strings.TrimSpace(d.DeviceID)
		ds = append(ds, Disk{
			Path:      d.DeviceID,
			Name:      deref(d.Model),
			Size:      derefUint(d.Size),
			Removable: isRemovableMedia(deref(d.MediaType), deref(d.InterfaceType)),
			Kind:      Raw,
		})
	}
	return ds, nil
}

func isRemovableMedia(mediaType, iface string) bool {
	return strings.EqualFold(iface, "USB") ||
		strings.Contains(strings.ToLower(mediaType), "removable") ||
		strings.Contains(strings.ToLower(mediaType), "external")
}

func removableVolumes() ([]Disk, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, fmt.Errorf("GetLogicalDrives failed: %w", err)
	}
	var ds []Disk
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		root := string(rune('A'+i)) + `:\`
		rootPtr := windows.StringToUTF16Ptr(root)
		if windows.GetDriveType(rootPtr) != windows.DRIVE_REMOVABLE {
			continue
		}

		var label string
		var volName [windows.MAX_PATH + 1]uint16
		err := windows.GetVolumeInformation(rootPtr, &volName[0], uint32(len(volName)), nil, nil, nil, nil, 0)
		if err == nil {
			label = windows.UTF16ToString(volName[:])
		} else {
			debugf("no volume information for %s: %s", root, err)
		}

		var free, total, totalFree uint64
		if err := windows.GetDiskFreeSpaceEx(rootPtr, &free, &total, &totalFree); err != nil {
			debugf("no capacity for %s: %s", root, err)
			total = 0
		}

		ds = append(ds, Disk{
			Path:      root,
			Name:      label,
			Size:      total,
			Removable: true,
			Kind:      Mounted,
		})
	}
	return ds, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefUint(n *uint64) uint64 {
	if n == nil {
		return 0
	}
	return *n
}

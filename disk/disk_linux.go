package disk

import (
	"bytes"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	udisksService     = "org.freedesktop.UDisks2"
	udisksRoot        = "/org/freedesktop/UDisks2"
	udisksBlock       = "org.freedesktop.UDisks2.Block"
	udisksDrive       = "org.freedesktop.UDisks2.Drive"
	udisksPartition   = "org.freedesktop.UDisks2.Partition"
	udisksFilesystem  = "org.freedesktop.UDisks2.Filesystem"
	getManagedObjects = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

type linuxEnumerator struct {
	opts  options
	query func() (managedObjects, error)
	sysfs *sysfsScanner
}

func newPlatformEnumerator(o options) Enumerator {
	return &linuxEnumerator{
		opts:  o,
		query: queryUDisks,
		sysfs: newSysfsScanner("/sys"),
	}
}

// List asks UDisks2 first and falls back to sysfs when the system bus or
// the UDisks2 service is not reachable.
func (e *linuxEnumerator) List() ([]Disk, error) {
	objs, err := e.query()
	if err == nil {
		return finalize(disksFromUDisks(objs), e.opts), nil
	}
	debugf("udisks2 not available, scanning sysfs: %s", err)
	ds, err := e.sysfs.scan()
	if err != nil {
		return nil, err
	}
	return finalize(ds, e.opts), nil
}

func queryUDisks() (managedObjects, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	var objs managedObjects
	err = conn.Object(udisksService, udisksRoot).Call(getManagedObjects, 0).Store(&objs)
	if err != nil {
		return nil, err
	}
	return objs, nil
}

func disksFromUDisks(objs managedObjects) []Disk {
	paths := make([]string, 0, len(objs))
	for p := range objs {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	var ds []Disk
	for _, p := range paths {
		ifaces := objs[dbus.ObjectPath(p)]
		block, ok := ifaces[udisksBlock]
		if !ok {
			continue
		}
		if propBool(block, "HintSystem") || propBool(block, "HintIgnore") {
			continue
		}
		drivePath := propObjectPath(block, "Drive")
		if drivePath == "" || drivePath == "/" {
			continue
		}
		drive, ok := objs[drivePath][udisksDrive]
		if !ok {
			continue
		}
		removable := propBool(drive, "Removable") || propBool(drive, "MediaRemovable") ||
			propString(drive, "ConnectionBus") == "usb"
		dev := propBytes(block, "PreferredDevice")
		if dev == "" {
			dev = propBytes(block, "Device")
		}
		size := propUint64(block, "Size")

		if _, isPart := ifaces[udisksPartition]; !isPart {
			if size == 0 {
				size = propUint64(drive, "Size")
			}
			ds = append(ds, Disk{
				Path:      dev,
				Name:      strings.TrimSpace(propString(drive, "Vendor") + " " + propString(drive, "Model")),
				Size:      size,
				Removable: removable,
				Kind:      Raw,
			})
		}

		fs, ok := ifaces[udisksFilesystem]
		if !ok {
			continue
		}
		name := propString(block, "IdLabel")
		if name == "" {
			name = propString(block, "HintName")
		}
		for _, mp := range propByteArrays(fs, "MountPoints") {
			ds = append(ds, Disk{
				Path:      mp,
				Name:      name,
				Size:      size,
				Removable: removable,
				Kind:      Mounted,
			})
		}
	}
	return ds
}

func propString(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func propBool(props map[string]dbus.Variant, name string) bool {
	if v, ok := props[name]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

func propUint64(props map[string]dbus.Variant, name string) uint64 {
	if v, ok := props[name]; ok {
		if n, ok := v.Value().(uint64); ok {
			return n
		}
	}
	return 0
}

func propObjectPath(props map[string]dbus.Variant, name string) dbus.ObjectPath {
	if v, ok := props[name]; ok {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			return p
		}
	}
	return ""
}

// UDisks2 sends paths as NUL terminated byte arrays.
func propBytes(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if b, ok := v.Value().([]byte); ok {
			return string(bytes.TrimRight(b, "\x00"))
		}
	}
	return ""
}

func propByteArrays(props map[string]dbus.Variant, name string) []string {
	v, ok := props[name]
	if !ok {
		return nil
	}
	arrs, ok := v.Value().([][]byte)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arrs))
	for _, b := range arrs {
		if s := string(bytes.TrimRight(b, "\x00")); s != "" {
			out = append(out, s)
		}
	}
	return out
}

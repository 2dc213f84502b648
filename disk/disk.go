// Package disk lists removable drives that an image can be written to.
package disk

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
)

// ErrUnsupported is returned by List on platforms without a drive scanner.
var ErrUnsupported = errors.New("listing drives is not supported on this platform")

// placeholderName is used when a drive reports no model or label.
const placeholderName = "Removable Drive"

// Kind tells how a Disk is written to.
type Kind int

const (
	// Raw disks are whole block devices written from offset 0.
	Raw Kind = 1 << iota
	// Mounted disks are filesystem mount points; the image lands there as a file.
	Mounted

	AllKinds = Raw | Mounted
)

func (k Kind) String() string {
	switch k {
	case Raw:
		return "raw"
	case Mounted:
		return "mounted"
	case AllKinds:
		return "all"
	}
	return "unknown"
}

// ParseKind parses "raw", "mounted" or "all".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw":
		return Raw, nil
	case "mounted":
		return Mounted, nil
	case "all", "":
		return AllKinds, nil
	}
	return 0, fmt.Errorf("invalid drive kind '%s', must be one of raw, mounted or all", s)
}

// Disk is a snapshot of one candidate drive. It holds no OS handles.
type Disk struct {
	// Path is the device node (raw) or the mount point (mounted).
	Path string
	Name string
	// Size is the capacity in bytes, 0 when unknown.
	Size      uint64
	Removable bool
	Kind      Kind
}

func (d Disk) String() string {
	size := "?"
	if d.Size > 0 {
		size = units.BytesSize(float64(d.Size))
	}
	return fmt.Sprintf("%s %s (%s)", d.Name, size, d.Path)
}

// Enumerator scans the system for removable drives.
type Enumerator interface {
	List() ([]Disk, error)
}

type options struct {
	kinds   Kind
	minSize uint64
}

// Option tunes what an Enumerator returns.
type Option func(*options)

// WithKinds restricts results to the given kinds.
func WithKinds(k Kind) Option {
	return func(o *options) { o.kinds = k }
}

// WithMinSize drops drives known to be smaller than n bytes. Drives of
// unknown size are kept.
func WithMinSize(n uint64) Option {
	return func(o *options) { o.minSize = n }
}

// NewEnumerator returns the scanner for the current platform.
func NewEnumerator(opts ...Option) Enumerator {
	o := options{kinds: AllKinds}
	for _, opt := range opts {
		opt(&o)
	}
	return newPlatformEnumerator(o)
}

// Get lists all removable drives using the platform scanner.
func Get() ([]Disk, error) {
	return NewEnumerator().List()
}

var debug bool

// SetDebug enables logging of drives whose metadata could not be read.
func SetDebug(on bool) {
	debug = on
}

func debugf(format string, args ...interface{}) {
	if debug {
		log.Printf("debug: "+format, args...)
	}
}

// finalize is applied to every platform's raw scan. It keeps OS order.
func finalize(ds []Disk, o options) []Disk {
	seen := make(map[string]bool, len(ds))
	out := make([]Disk, 0, len(ds))
	for _, d := range ds {
		d.Path = strings.TrimSpace(d.Path)
		if d.Path == "" || !d.Removable || seen[d.Path] {
			continue
		}
		if o.kinds != 0 && d.Kind&o.kinds == 0 {
			continue
		}
		if o.minSize > 0 && d.Size > 0 && d.Size < o.minSize {
			continue
		}
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			debugf("no label for %s, using placeholder", d.Path)
			d.Name = placeholderFor(d)
		}
		if d.Size == 0 {
			debugf("unknown size for %s", d.Path)
		}
		seen[d.Path] = true
		out = append(out, d)
	}
	return out
}

func placeholderFor(d Disk) string {
	if d.Kind == Mounted {
		if base := filepath.Base(d.Path); base != "" && base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return placeholderName
}

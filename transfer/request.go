package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"

	"github.com/oxplot/isowriter/disk"
)

// Request is a validated, immutable description of one transfer.
type Request struct {
	Source string
	Target disk.Disk
	// SourceSize is the size of the source file in bytes at validation
	// time, or -1 when it could not be determined.
	SourceSize int64
	// Compressed is set for xz images, which are decompressed while copying.
	Compressed bool
}

// Destination is where the bytes are written: the device node for raw
// disks, or a file named after the image under the mount point.
func (r Request) Destination() string {
	if r.Target.Kind != disk.Mounted {
		return r.Target.Path
	}
	name := filepath.Base(r.Source)
	if r.Compressed && strings.EqualFold(filepath.Ext(name), ".xz") {
		name = name[:len(name)-len(".xz")]
	}
	return filepath.Join(r.Target.Path, name)
}

// Validate checks that source is a readable file and target is set. The
// source may still disappear before the transfer runs; that is reported
// as an ErrOpen TransferError.
func Validate(source string, target disk.Disk) (Request, error) {
	if strings.TrimSpace(source) == "" {
		return Request{}, ErrEmptySource
	}
	if strings.TrimSpace(target.Path) == "" {
		return Request{}, ErrEmptyTarget
	}

	f, err := os.Open(source)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	if fi.IsDir() {
		return Request{}, fmt.Errorf("%w: %s is a directory", ErrSourceUnreadable, source)
	}

	compressed, err := isXZ(f)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	size := sourceSize(f)

	if !compressed && size > 0 && target.Size > 0 && uint64(size) > target.Size {
		return Request{}, fmt.Errorf("%w: image is %s, %s holds %s", ErrTargetTooSmall,
			units.BytesSize(float64(size)), target.Path, units.BytesSize(float64(target.Size)))
	}

	req := Request{
		Source:     source,
		Target:     target,
		SourceSize: size,
		Compressed: compressed,
	}
	if overwritesSource(fi, req.Destination()) {
		return Request{}, fmt.Errorf("%w: %s", ErrSourceIsTarget, req.Destination())
	}
	return req, nil
}

// overwritesSource reports whether dest names the same file or device as
// the already opened source.
func overwritesSource(src os.FileInfo, dest string) bool {
	dfi, err := os.Stat(dest)
	return err == nil && os.SameFile(src, dfi)
}

// ConfirmationMessage is the question every front-end must get a yes to
// before calling Start. It names the exact source and destination.
func ConfirmationMessage(r Request) string {
	if r.Target.Kind == disk.Mounted {
		return fmt.Sprintf("You are about to write\n\n%s\n\nto\n\n%s\n\nreplacing any existing file there.\nAre you sure?",
			r.Source, r.Destination())
	}
	return fmt.Sprintf("You are about to DESTROY ALL DATA on\n\n%s\n(%s)\n\nby writing\n\n%s\n\nThere is no going back.\nAre you sure?",
		r.Destination(), r.Target.Name, r.Source)
}

package transfer

import (
	"io"
	"os"

	"github.com/oxplot/isowriter/disk"
)

type target interface {
	io.Writer
	Sync() error
	Close() error
}

// openTarget opens the destination of r for writing. Device nodes are
// never created: if a raw target vanished, creating a regular file in its
// place would silently fill /dev.
func openTarget(r Request) (target, error) {
	if r.Target.Kind == disk.Mounted {
		return os.OpenFile(r.Destination(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	}
	f, err := os.OpenFile(r.Destination(), os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

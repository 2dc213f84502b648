//go:build !linux && !darwin && !windows

package disk

type unsupportedEnumerator struct{}

func newPlatformEnumerator(o options) Enumerator {
	return unsupportedEnumerator{}
}

func (unsupportedEnumerator) List() ([]Disk, error) {
	return nil, ErrUnsupported
}

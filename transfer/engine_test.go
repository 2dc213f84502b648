package transfer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/oxplot/isowriter/disk"
)

const mib = 1 << 20

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func writeImage(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func mountedTarget(t *testing.T) disk.Disk {
	return disk.Disk{Path: t.TempDir(), Name: "TEST", Removable: true, Kind: disk.Mounted}
}

// hookedTarget wraps a real file and lets tests intercept writes.
type hookedTarget struct {
	*os.File
	mu     sync.Mutex
	writes int
	before func(n int) error
}

func (h *hookedTarget) Write(b []byte) (int, error) {
	h.mu.Lock()
	h.writes++
	n := h.writes
	h.mu.Unlock()
	if h.before != nil {
		if err := h.before(n); err != nil {
			return 0, err
		}
	}
	return h.File.Write(b)
}

func hook(e *Engine, before func(n int) error) {
	e.openTarget = func(r Request) (target, error) {
		f, err := openTarget(r)
		if err != nil {
			return nil, err
		}
		return &hookedTarget{File: f.(*os.File), before: before}, nil
	}
}

func TestEngineRoundTrip(t *testing.T) {
	data := pattern(10 * mib)
	src := writeImage(t, "pattern.img", data)
	tgt := mountedTarget(t)

	status := NewStatus()
	e := NewEngine(status)
	require.NoError(t, e.Submit(src, tgt))

	res := e.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, int64(len(data)), res.BytesWritten)

	snap := status.Snapshot()
	assert.Equal(t, 1.0, snap.Progress)
	assert.False(t, snap.Running)
	assert.NoError(t, snap.Err)
	assert.Equal(t, Completed, snap.State)
	assert.Equal(t, int64(len(data)), snap.TotalBytes)

	got, err := os.ReadFile(filepath.Join(tgt.Path, "pattern.img"))
	require.NoError(t, err)
	assert.Len(t, got, len(data))
	assert.True(t, bytes.Equal(data, got), "destination differs from source")
}

func TestEngineRawTargetTruncatesFile(t *testing.T) {
	data := pattern(3*mib + 123)
	src := writeImage(t, "odd.img", data)
	dst := writeImage(t, "device", pattern(5*mib))

	e := NewEngine(NewStatus(), WithChunkSize(mib))
	require.NoError(t, e.Submit(src, disk.Disk{Path: dst, Removable: true, Kind: disk.Raw}))
	res := e.Wait()
	require.NoError(t, res.Err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestEngineRawTargetIsNeverCreated(t *testing.T) {
	src := writeImage(t, "a.img", pattern(mib))
	missing := filepath.Join(t.TempDir(), "sdz")

	status := NewStatus()
	e := NewEngine(status)
	require.NoError(t, e.Submit(src, disk.Disk{Path: missing, Removable: true, Kind: disk.Raw}))
	res := e.Wait()

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrOpen)
	assert.NoFileExists(t, missing)
	assert.ErrorIs(t, status.Snapshot().Err, ErrOpen)
}

func TestEngineProgressNeverDecreases(t *testing.T) {
	src := writeImage(t, "p.img", pattern(10*mib))
	status := NewStatus()
	e := NewEngine(status, WithChunkSize(64<<10))
	require.NoError(t, e.Submit(src, mountedTarget(t)))

	last := 0.0
	for {
		snap := status.Snapshot()
		require.GreaterOrEqual(t, snap.Progress, last)
		require.LessOrEqual(t, snap.Progress, 1.0)
		last = snap.Progress
		if !snap.Running {
			break
		}
	}
	assert.Equal(t, Completed, e.Wait().State)
	assert.Equal(t, 1.0, status.Snapshot().Progress)
}

func TestEngineRejectsStartWhileRunning(t *testing.T) {
	src := writeImage(t, "a.img", pattern(2*mib))
	release := make(chan struct{})
	entered := make(chan struct{})

	status := NewStatus()
	e := NewEngine(status, WithChunkSize(mib))
	hook(e, func(n int) error {
		if n == 1 {
			close(entered)
			<-release
		}
		return nil
	})
	tgt := mountedTarget(t)
	require.NoError(t, e.Submit(src, tgt))
	<-entered

	before := status.Snapshot()
	require.True(t, before.Running)

	other := writeImage(t, "b.img", pattern(mib))
	err := e.Submit(other, mountedTarget(t))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, Running, e.State())

	after := status.Snapshot()
	assert.True(t, after.Running)
	assert.Equal(t, before.Progress, after.Progress)
	assert.NoError(t, after.Err)

	close(release)
	res := e.Wait()
	assert.Equal(t, Completed, res.State)
	assert.FileExists(t, filepath.Join(tgt.Path, "a.img"))
}

func TestEngineSequentialTransfers(t *testing.T) {
	status := NewStatus()
	e := NewEngine(status)

	first := pattern(mib)
	second := pattern(2*mib + 7)
	tgt1, tgt2 := mountedTarget(t), mountedTarget(t)

	require.NoError(t, e.Submit(writeImage(t, "one.img", first), tgt1))
	require.Equal(t, Completed, e.Wait().State)

	require.NoError(t, e.Submit(writeImage(t, "two.img", second), tgt2))
	res := e.Wait()
	require.Equal(t, Completed, res.State)
	assert.Equal(t, int64(len(second)), res.BytesWritten)

	got, err := os.ReadFile(filepath.Join(tgt2.Path, "two.img"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(second, got))
	assert.Equal(t, 1.0, status.Snapshot().Progress)
}

func TestEngineWriteFailure(t *testing.T) {
	src := writeImage(t, "a.img", pattern(4*mib))
	status := NewStatus()
	e := NewEngine(status, WithChunkSize(mib))
	removed := errors.New("no such device")
	hook(e, func(n int) error {
		if n == 2 {
			return removed
		}
		return nil
	})

	require.NoError(t, e.Submit(src, mountedTarget(t)))
	res := e.Wait()
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, int64(mib), res.BytesWritten)
	assert.ErrorIs(t, res.Err, ErrWrite)
	assert.ErrorIs(t, res.Err, removed)

	snap := status.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, Failed, snap.State)
	require.Error(t, snap.Err)
	assert.Contains(t, snap.Err.Error(), "no such device")

	// The error is surfaced once.
	assert.NoError(t, status.Snapshot().Err)

	// And the engine is usable again.
	require.NoError(t, e.Submit(writeImage(t, "b.img", pattern(mib)), mountedTarget(t)))
	assert.Equal(t, Completed, e.Wait().State)
}

func TestEngineCancel(t *testing.T) {
	src := writeImage(t, "a.img", pattern(8*mib))
	status := NewStatus()
	e := NewEngine(status, WithChunkSize(mib))
	hook(e, func(n int) error {
		if n == 2 {
			e.Cancel()
		}
		return nil
	})
	tgt := mountedTarget(t)

	require.NoError(t, e.Submit(src, tgt))
	res := e.Wait()
	assert.Equal(t, Cancelled, res.State)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.Equal(t, Cancelled, e.State())

	fi, err := os.Stat(filepath.Join(tgt.Path, "a.img"))
	require.NoError(t, err)
	assert.Equal(t, int64(2*mib), fi.Size())
	assert.Zero(t, fi.Size()%mib)

	snap := status.Snapshot()
	assert.False(t, snap.Running)
	assert.ErrorIs(t, snap.Err, ErrCancelled)
}

func TestEngineXZSource(t *testing.T) {
	data := pattern(3 * mib)
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	src := writeImage(t, "image.img.xz", buf.Bytes())

	status := NewStatus()
	e := NewEngine(status)
	tgt := mountedTarget(t)
	require.NoError(t, e.Submit(src, tgt))
	res := e.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, int64(len(data)), res.BytesWritten)

	got, err := os.ReadFile(filepath.Join(tgt.Path, "image.img"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	snap := status.Snapshot()
	assert.Equal(t, 1.0, snap.Progress)
	assert.Equal(t, int64(buf.Len()), snap.TotalBytes)
}

func TestEngineTruncatedXZSourceFails(t *testing.T) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(pattern(3 * mib))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	src := writeImage(t, "cut.img.xz", buf.Bytes()[:buf.Len()/2])

	status := NewStatus()
	e := NewEngine(status)
	require.NoError(t, e.Submit(src, mountedTarget(t)))
	res := e.Wait()
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrRead)

	snap := status.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.False(t, snap.Running)
	assert.ErrorIs(t, snap.Err, ErrRead)
	assert.NoError(t, status.Snapshot().Err)
}

func TestReadChunkKeepsUnexpectedEOF(t *testing.T) {
	buf := make([]byte, 1024)
	r := io.MultiReader(bytes.NewReader(pattern(100)), iotest.ErrReader(io.ErrUnexpectedEOF))
	n, err := readChunk(r, buf)
	assert.Equal(t, 100, n)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	n, err = readChunk(iotest.OneByteReader(bytes.NewReader(pattern(100))), buf)
	assert.Equal(t, 100, n)
	assert.Equal(t, io.EOF, err)

	n, err = readChunk(bytes.NewReader(pattern(2048)), buf)
	assert.Equal(t, 1024, n)
	assert.NoError(t, err)
}

func TestEngineRefusesToOverwriteSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "img.iso")
	data := pattern(mib)
	require.NoError(t, os.WriteFile(src, data, 0644))
	stickRoot := disk.Disk{Path: dir, Removable: true, Kind: disk.Mounted}

	e := NewEngine(NewStatus())
	assert.ErrorIs(t, e.Submit(src, stickRoot), ErrSourceIsTarget)
	assert.Equal(t, Idle, e.State())

	// A request built without Validate is still caught before truncating.
	require.NoError(t, e.Start(Request{Source: src, Target: stickRoot, SourceSize: int64(len(data))}))
	res := e.Wait()
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrOpen)
	assert.ErrorIs(t, res.Err, ErrSourceIsTarget)

	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "source image was modified")
}

// lengthRecorder remembers the size of every write.
type lengthRecorder struct {
	*os.File
	lens []int
}

func (l *lengthRecorder) Write(b []byte) (int, error) {
	l.lens = append(l.lens, len(b))
	return l.File.Write(b)
}

func TestEnginePadsLastChunkForDevices(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no /dev/null")
	}
	src := writeImage(t, "odd.img", pattern(mib+100))

	rec := &lengthRecorder{}
	e := NewEngine(NewStatus(), WithChunkSize(mib), WithSync(false))
	e.openTarget = func(r Request) (target, error) {
		f, err := openTarget(r)
		if err != nil {
			return nil, err
		}
		rec.File = f.(*os.File)
		return rec, nil
	}
	require.NoError(t, e.Submit(src, disk.Disk{Path: os.DevNull, Removable: true, Kind: disk.Raw}))
	res := e.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, int64(mib+100), res.BytesWritten)
	assert.Equal(t, []int{mib, 512}, rec.lens)
}

func TestEngineDoesNotPadRegularFiles(t *testing.T) {
	data := pattern(mib + 100)
	src := writeImage(t, "odd.img", data)
	dst := writeImage(t, "device", nil)

	e := NewEngine(NewStatus(), WithChunkSize(mib))
	require.NoError(t, e.Submit(src, disk.Disk{Path: dst, Removable: true, Kind: disk.Raw}))
	require.NoError(t, e.Wait().Err)

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), fi.Size())
}

func TestPadToSector(t *testing.T) {
	buf := bytes.Repeat([]byte{0xff}, 1024)
	assert.Equal(t, 512, padToSector(buf, 3))
	assert.Equal(t, make([]byte, 509), buf[3:512])
	assert.Equal(t, byte(0xff), buf[512])

	assert.Equal(t, 512, padToSector(buf, 512))
	assert.Equal(t, 1024, padToSector(buf, 513))
}

func TestEngineSourceVanished(t *testing.T) {
	src := writeImage(t, "a.img", pattern(mib))
	req, err := Validate(src, mountedTarget(t))
	require.NoError(t, err)
	require.NoError(t, os.Remove(src))

	e := NewEngine(NewStatus())
	require.NoError(t, e.Start(req))
	res := e.Wait()
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrOpen)
}

func TestEngineIdle(t *testing.T) {
	e := NewEngine(NewStatus())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, Idle, e.Wait().State)
	e.Cancel()
}

func TestEngineStartRejectsZeroRequest(t *testing.T) {
	e := NewEngine(NewStatus())
	assert.ErrorIs(t, e.Start(Request{}), ErrEmptySource)
	assert.ErrorIs(t, e.Start(Request{Source: "x"}), ErrEmptyTarget)
	assert.Equal(t, Idle, e.State())
}

func TestWithChunkSizeIgnoresInvalid(t *testing.T) {
	assert.Equal(t, DefaultChunkSize, NewEngine(NewStatus(), WithChunkSize(1000)).chunkSize)
	assert.Equal(t, DefaultChunkSize, NewEngine(NewStatus(), WithChunkSize(0)).chunkSize)
	assert.Equal(t, 8192, NewEngine(NewStatus(), WithChunkSize(8192)).chunkSize)
}

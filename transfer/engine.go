// Package transfer copies an image onto a drive in the background while
// reporting progress through a shared Status.
//
// A transfer has no timeout. If the device stops responding, the write
// blocks until the OS gives up on it, and Cancel only takes effect once
// the chunk being written returns.
//
// Device nodes only accept whole 512 byte sectors, so when writing to one
// the last chunk of an image whose size is not a multiple of 512 is padded
// with zeros. Regular files and files on mounted volumes get the exact
// image bytes.
package transfer

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/docker/go-units"

	"github.com/oxplot/isowriter/disk"
)

const sectorSize = 512

// DefaultChunkSize is how much is read and written per step. Large enough
// to keep syscall overhead low, small enough for smooth progress.
const DefaultChunkSize = 4 << 20

// Result is the outcome of a finished transfer.
type Result struct {
	State        State
	BytesWritten int64
	Err          error
}

type job struct {
	req    Request
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Engine runs at most one transfer at a time.
type Engine struct {
	status     *Status
	chunkSize  int
	sync       bool
	openTarget func(Request) (target, error)

	mu  sync.Mutex
	job *job
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the copy chunk size. Values that are not a positive
// multiple of 512 are ignored so raw devices always see whole sectors.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 && n%sectorSize == 0 {
			e.chunkSize = n
		}
	}
}

// WithSync controls whether the destination is flushed to the device
// before a transfer counts as completed. Enabled by default.
func WithSync(on bool) Option {
	return func(e *Engine) { e.sync = on }
}

// NewEngine returns an idle engine reporting into status.
func NewEngine(status *Status, opts ...Option) *Engine {
	e := &Engine{
		status:     status,
		chunkSize:  DefaultChunkSize,
		sync:       true,
		openTarget: openTarget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit validates source and target and starts the transfer. Validation
// errors are returned before anything runs in the background.
func (e *Engine) Submit(source string, target disk.Disk) error {
	req, err := Validate(source, target)
	if err != nil {
		return err
	}
	return e.Start(req)
}

// Start begins copying in the background and returns immediately. It
// fails with ErrBusy, leaving the running transfer untouched, if one is
// already in flight. The caller must have confirmed the write with the
// user, see ConfirmationMessage.
func (e *Engine) Start(req Request) error {
	if req.Source == "" {
		return ErrEmptySource
	}
	if req.Target.Path == "" {
		return ErrEmptyTarget
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job != nil && !e.job.finished() {
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{req: req, cancel: cancel, done: make(chan struct{})}
	e.job = j
	e.status.begin()
	go e.run(ctx, j)
	return nil
}

// Cancel asks the running transfer to stop after the current chunk.
func (e *Engine) Cancel() {
	e.mu.Lock()
	j := e.job
	e.mu.Unlock()
	if j != nil {
		j.cancel()
	}
}

// Wait blocks until the current or last transfer is done and returns its
// result. It returns an Idle result if nothing was ever started.
func (e *Engine) Wait() Result {
	e.mu.Lock()
	j := e.job
	e.mu.Unlock()
	if j == nil {
		return Result{State: Idle}
	}
	<-j.done
	return j.result
}

// State reports the state of the current or last transfer.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job == nil {
		return Idle
	}
	if !e.job.finished() {
		return Running
	}
	return e.job.result.State
}

func (j *job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (e *Engine) run(ctx context.Context, j *job) {
	defer j.cancel()
	log.Printf("writing %s to %s", j.req.Source, j.req.Destination())
	start := time.Now()

	written, err := e.copy(ctx, j.req)

	// Finishing under e.mu means Start never sees a stopped status with a
	// job that is still marked as running.
	e.mu.Lock()
	defer e.mu.Unlock()
	j.result = Result{BytesWritten: written, Err: err}
	switch {
	case err == nil:
		j.result.State = Completed
		e.status.complete(written)
		elapsed := time.Since(start)
		log.Printf("wrote %s to %s in %s (%s/s)", units.BytesSize(float64(written)),
			j.req.Destination(), elapsed.Round(time.Millisecond), units.BytesSize(rate(written, elapsed)))
	case errors.Is(err, ErrCancelled):
		j.result.State = Cancelled
		e.status.fail(Cancelled, written, err)
		log.Printf("cancelled writing to %s after %s", j.req.Destination(), units.BytesSize(float64(written)))
	default:
		j.result.State = Failed
		e.status.fail(Failed, written, err)
		log.Printf("error: writing to %s failed: %s", j.req.Destination(), err)
	}
	close(j.done)
}

func (e *Engine) copy(ctx context.Context, req Request) (int64, error) {
	src, err := openSource(req.Source)
	if err != nil {
		return 0, &TransferError{Kind: ErrOpen, Err: err}
	}
	defer src.Close()

	// Opening the target truncates it.
	if fi, err := src.f.Stat(); err == nil && overwritesSource(fi, req.Destination()) {
		return 0, &TransferError{Kind: ErrOpen, Err: ErrSourceIsTarget}
	}

	dst, err := e.openTarget(req)
	if err != nil {
		return 0, &TransferError{Kind: ErrOpen, Err: err}
	}
	e.status.setTotal(src.size)
	pad := needsWholeSectors(req, dst)

	var written int64
	fail := func(kind, err error) (int64, error) {
		dst.Close()
		return written, &TransferError{Kind: kind, Err: err}
	}

	buf := make([]byte, e.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return fail(ErrCancelled, err)
		}
		n, rerr := readChunk(src, buf)
		if n > 0 {
			wlen := n
			if pad {
				wlen = padToSector(buf, n)
			}
			wn, werr := dst.Write(buf[:wlen])
			if werr == nil && wn < wlen {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return fail(ErrWrite, werr)
			}
			written += int64(n)
			e.status.advance(written, src.consumed())
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fail(ErrRead, rerr)
		}
	}

	if e.sync {
		if err := dst.Sync(); err != nil {
			return fail(ErrWrite, err)
		}
	}
	if err := dst.Close(); err != nil {
		return written, &TransferError{Kind: ErrWrite, Err: err}
	}
	return written, nil
}

// needsWholeSectors reports whether dst is a device node. Raw devices such
// as /dev/rdiskN and \\.\PHYSICALDRIVEn reject writes that are not a whole
// number of sectors.
func needsWholeSectors(req Request, dst target) bool {
	if req.Target.Kind == disk.Mounted {
		return false
	}
	st, ok := dst.(interface{ Stat() (os.FileInfo, error) })
	if !ok {
		return false
	}
	fi, err := st.Stat()
	return err == nil && !fi.Mode().IsRegular()
}

// padToSector zero fills buf from n up to the next multiple of sectorSize
// and returns the padded length. buf must be a whole number of sectors long.
func padToSector(buf []byte, n int) int {
	end := (n + sectorSize - 1) / sectorSize * sectorSize
	clear(buf[n:end])
	return end
}

// readChunk fills buf from r. It returns io.EOF, possibly together with a
// partial chunk, only when r itself reports io.EOF. Unlike io.ReadFull, an
// io.ErrUnexpectedEOF from r stays an error.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		nn, err := r.Read(buf[n:])
		n += nn
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

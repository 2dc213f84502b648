package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/oxplot/isowriter/disk"
	"github.com/oxplot/isowriter/transfer"
)

func newGUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gui",
		Short: "Open the desktop window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInGUIMode()
		},
	}
}

type gui struct {
	win      fyne.Window
	image    *widget.Entry
	size     *widget.Label
	driveSel *widget.Select
	found    *widget.Label
	write    *widget.Button

	status *transfer.Status
	engine *transfer.Engine

	mu     sync.Mutex
	drives []disk.Disk
}

// refresh re-enumerates drives. The current selection is kept when the same
// drive is still present.
func (g *gui) refresh() {
	ds, err := listDisks()
	if err != nil {
		log.Printf("error: %s", err)
		ds = nil
	}
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.String()
	}

	g.mu.Lock()
	g.drives = ds
	g.mu.Unlock()

	prev := g.driveSel.Selected
	g.driveSel.Options = names
	g.driveSel.ClearSelected()
	for _, n := range names {
		if n == prev {
			g.driveSel.SetSelected(n)
			break
		}
	}
	g.driveSel.Refresh()
	g.found.SetText(fmt.Sprintf("Drives found: %d", len(ds)))
	g.updateWriteButton()
}

func (g *gui) selectedDrive() (disk.Disk, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.driveSel.SelectedIndex()
	if i < 0 || i >= len(g.drives) {
		return disk.Disk{}, false
	}
	return g.drives[i], true
}

func (g *gui) updateWriteButton() {
	_, ok := g.selectedDrive()
	if ok && g.image.Text != "" && !g.status.Snapshot().Running {
		g.write.Enable()
	} else {
		g.write.Disable()
	}
}

func (g *gui) setImage(path string) {
	if path == "" {
		g.size.SetText("")
	} else if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		g.size.SetText("Image size: unreadable")
	} else {
		g.size.SetText("Image size: " + units.BytesSize(float64(fi.Size())))
	}
	g.updateWriteButton()
}

func (g *gui) browse() {
	d := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, g.win)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()
		g.image.SetText(r.URI().Path())
	}, g.win)
	d.SetFilter(storage.NewExtensionFileFilter([]string{".iso", ".img", ".xz"}))
	d.Show()
}

func (g *gui) confirmAndWrite() {
	td, ok := g.selectedDrive()
	if !ok {
		return
	}
	req, err := transfer.Validate(g.image.Text, td)
	if err != nil {
		dialog.ShowError(err, g.win)
		return
	}
	dialog.ShowConfirm("Are you sure?", transfer.ConfirmationMessage(req), func(y bool) {
		if !y {
			return
		}
		if err := g.engine.Start(req); err != nil {
			dialog.ShowError(err, g.win)
			return
		}
		go g.track(req)
	}, g.win)
}

// track mirrors the engine status into a progress dialog until the transfer
// stops, then reports the outcome once.
func (g *gui) track(req transfer.Request) {
	g.write.Disable()
	prog := widget.NewProgressBar()
	prog.Min, prog.Max = 0, 1
	written := widget.NewLabel("")
	cancelling := dialog.NewInformation("Cancelling", "Cancelling after the current chunk ...", g.win)
	progDiag := dialog.NewCustom("Writing "+req.Destination(), "Cancel", container.NewVBox(prog, written), g.win)
	progDiag.SetOnClosed(func() {
		if g.status.Snapshot().Running {
			g.engine.Cancel()
			cancelling.Show()
		}
	})
	progDiag.Show()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for range ticker.C {
		snap := g.status.Snapshot()
		prog.SetValue(snap.Progress)
		written.SetText(units.BytesSize(float64(snap.BytesWritten)) + " written")
		if !snap.Running {
			break
		}
	}

	res := g.engine.Wait()
	progDiag.Hide()
	cancelling.Hide()
	switch {
	case res.State == transfer.Completed:
		dialog.ShowInformation("Success", "Done! "+req.Destination()+" is ready.", g.win)
	case errors.Is(res.Err, transfer.ErrCancelled):
		dialog.ShowInformation("Stopped", "Writing was stopped. "+req.Destination()+
			" is only partially written and should be rewritten before use.", g.win)
	default:
		dialog.ShowError(res.Err, g.win)
	}
	g.updateWriteButton()
}

func runInGUIMode() error {
	a := app.New()
	status := transfer.NewStatus()
	g := &gui{
		win:      a.NewWindow(title),
		image:    widget.NewEntry(),
		size:     widget.NewLabel(""),
		driveSel: widget.NewSelect(nil, nil),
		found:    widget.NewLabel(""),
		status:   status,
		engine:   newEngine(status),
	}
	g.image.SetPlaceHolder("Path to .iso, .img or .img.xz")
	g.image.OnChanged = g.setImage
	g.driveSel.PlaceHolder = "(select a drive)"
	g.driveSel.OnChanged = func(string) { g.updateWriteButton() }
	g.write = widget.NewButton("Write", g.confirmAndWrite)
	g.write.Disable()

	g.win.SetContent(container.NewPadded(container.NewVBox(
		widget.NewLabelWithStyle(title, fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		container.NewBorder(nil, nil, widget.NewLabel("Image:"), widget.NewButton("Browse", g.browse), g.image),
		g.size,
		widget.NewSeparator(),
		container.NewBorder(nil, nil, widget.NewLabel("Write to:"), widget.NewButton("Refresh", g.refresh), g.driveSel),
		g.found,
		widget.NewLabel("Only removable drives are shown"),
		widget.NewSeparator(),
		layout.NewSpacer(),
		g.write,
	)))

	contentSize := g.win.Content().Size()
	g.win.Resize(fyne.Size{
		Width:  contentSize.Width * 1.5,
		Height: contentSize.Height + 50,
	})

	g.refresh()
	g.win.ShowAndRun()
	return nil
}

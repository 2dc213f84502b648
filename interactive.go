package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/oxplot/isowriter/disk"
	"github.com/oxplot/isowriter/transfer"
)

const refreshItem = "↻ Refresh drive list"

func newInteractiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Pick an image and a drive with terminal prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInInteractiveMode()
		},
	}
}

func runInInteractiveMode() error {
	if !term.IsTerminal(int(os.Stderr.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive must be used inside of a terminal, use write if scripting")
	}

	fmt.Printf("%s\n\n", title)

	pt := promptui.Prompt{
		Label: "Path to the image file",
		Validate: func(v string) error {
			v = strings.TrimSpace(v)
			if v == "" {
				return fmt.Errorf("path cannot be blank")
			}
			fi, err := os.Stat(v)
			if err != nil {
				return fmt.Errorf("cannot read %s", v)
			}
			if fi.IsDir() {
				return fmt.Errorf("%s is a directory", v)
			}
			return nil
		},
		Pointer: promptui.PipeCursor,
	}
	source, err := pt.Run()
	if err != nil {
		return err
	}
	source = strings.TrimSpace(source)
	if fi, err := os.Stat(source); err == nil {
		fmt.Printf("%s (%s)\n\n", filepath.Base(source), units.BytesSize(float64(fi.Size())))
	}

	target, err := selectDrive()
	if err != nil {
		return err
	}

	req, err := transfer.Validate(source, target)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n\n", transfer.ConfirmationMessage(req))
	pt = promptui.Prompt{
		Label:     "Write " + filepath.Base(source),
		IsConfirm: true,
	}
	if _, err := pt.Run(); err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
			return fmt.Errorf("cancelled, nothing was written")
		}
		return err
	}

	status := transfer.NewStatus()
	e := newEngine(status)
	if err := e.Start(req); err != nil {
		return err
	}
	return watch(e, status, req.Destination())
}

// selectDrive re-enumerates every time the refresh entry is picked, so a
// drive plugged in after the prompt appeared can still be chosen.
func selectDrive() (disk.Disk, error) {
	for {
		drives, err := listDisks()
		if err != nil {
			return disk.Disk{}, err
		}

		items := make([]string, 0, len(drives)+1)
		for _, d := range drives {
			items = append(items, d.String())
		}
		items = append(items, refreshItem)

		sel := promptui.Select{
			Label: fmt.Sprintf("Select drive to write to (%d found)", len(drives)),
			Items: items,
			Size:  10,
		}
		i, _, err := sel.Run()
		if err != nil {
			return disk.Disk{}, err
		}
		if i < len(drives) {
			return drives[i], nil
		}
	}
}

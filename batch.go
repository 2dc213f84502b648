package main

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/oxplot/isowriter/disk"
	"github.com/oxplot/isowriter/transfer"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show removable drives that can be written to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := listDisks()
			if err != nil {
				return err
			}
			if len(ds) == 0 {
				fmt.Println("No removable drives found.")
				return nil
			}
			for _, d := range ds {
				size := "unknown"
				if d.Size > 0 {
					size = units.BytesSize(float64(d.Size))
				}
				fmt.Printf("%s (size = %s) (path = %s) (%s)\n", d.Name, size, d.Path, d.Kind)
			}
			return nil
		},
	}
}

type writeFlags struct {
	source string
	target string
	yes    bool
}

func newWriteCommand() *cobra.Command {
	var flags writeFlags
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write an image to a drive without prompting",
		Long: `Write an image to one of the drives shown by 'isowriter list'.

The drive is erased. Pass --yes to confirm; without it the command only
prints what it would do.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(&flags)
		},
	}
	cmd.Flags().StringVarP(&flags.source, "source", "s", "", "image file to write (.iso, .img, .img.xz)")
	cmd.Flags().StringVarP(&flags.target, "target", "t", "", "drive path as shown by 'isowriter list'")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "confirm that all data on the target may be destroyed")
	return cmd
}

func runWrite(flags *writeFlags) error {
	flags.source = strings.TrimSpace(flags.source)
	flags.target = strings.TrimSpace(flags.target)
	if flags.source == "" || flags.target == "" {
		return fmt.Errorf("--source and --target are required")
	}

	td, err := findDisk(flags.target)
	if err != nil {
		return err
	}

	req, err := transfer.Validate(flags.source, td)
	if err != nil {
		return err
	}

	if !flags.yes {
		fmt.Println(transfer.ConfirmationMessage(req))
		return fmt.Errorf("not confirmed, re-run with --yes to write")
	}

	status := transfer.NewStatus()
	e := newEngine(status)
	if err := e.Start(req); err != nil {
		return err
	}
	return watch(e, status, req.Destination())
}

// findDisk only resolves paths of drives the enumerator lists.
func findDisk(path string) (disk.Disk, error) {
	ds, err := listDisks()
	if err != nil {
		return disk.Disk{}, err
	}
	for _, d := range ds {
		if d.Path == path {
			return d, nil
		}
	}
	return disk.Disk{}, fmt.Errorf("'%s' drive was not found, run 'isowriter list' to see a list of available drives", path)
}

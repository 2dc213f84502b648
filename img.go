package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/oxplot/isowriter/transfer"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect IMAGE",
		Short: "Show the size and partition table of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectImage(cmd.OutOrStdout(), args[0])
		},
	}
}

// inspectImage never writes to path. Compressed images are only sized, their
// partition table is not visible without decompressing them first.
func inspectImage(w io.Writer, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", transfer.ErrSourceUnreadable, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", transfer.ErrSourceUnreadable, path)
	}
	compressed, err := transfer.IsCompressed(path)
	if err != nil {
		return fmt.Errorf("%w: %w", transfer.ErrSourceUnreadable, err)
	}

	fmt.Fprintf(w, "Image:      %s\n", filepath.Base(path))
	fmt.Fprintf(w, "Size:       %s (%d bytes)\n", units.BytesSize(float64(fi.Size())), fi.Size())
	if compressed {
		fmt.Fprintln(w, "Compressed: yes (xz, decompressed while writing)")
		return nil
	}
	fmt.Fprintln(w, "Compressed: no")

	d, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer d.Close()

	table, err := d.GetPartitionTable()
	if err != nil || table == nil {
		fmt.Fprintln(w, "Partitions: none recognised (plain ISO 9660 images have no MBR or GPT)")
		return nil
	}
	parts := table.GetPartitions()
	fmt.Fprintf(w, "Partitions: %s, %d\n", table.Type(), len(parts))
	for i, p := range parts {
		if p == nil || p.GetSize() == 0 {
			continue
		}
		fmt.Fprintf(w, "  %2d  start %-12d %s\n", i+1, p.GetStart(), units.BytesSize(float64(p.GetSize())))
	}
	return nil
}

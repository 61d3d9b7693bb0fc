package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/TFMV/blockpack/serializer"
	"github.com/TFMV/blockpack/stream"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print a container's header and info region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := stream.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		fi, err := serializer.Inspect(f)
		if err != nil {
			return fmt.Errorf("not a blockpack container: %w", err)
		}

		h := fi.Header
		fmt.Printf("%s\n", args[0])
		fmt.Printf("  format version   %d\n", h.FormatVersion)
		fmt.Printf("  resource version %d\n", h.ResourceVersion)
		fmt.Printf("  root size        %d bytes\n", h.AutoVersion)
		fmt.Printf("  data size        %d bytes\n", h.SizeOfData)
		fmt.Printf("  info region      %d bytes compressed\n", h.InfoSize)
		fmt.Printf("  packs %d, pointers %d, blocks %d\n", h.NPacks, h.NPointers, h.NBlockSizes)

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  PACK\tFLAGS\tUNCOMPRESSED\tBLOCKS")
		for i, pk := range fi.Packs {
			fmt.Fprintf(w, "  %d\t%s\t%d\t%d\n", i, flagString(pk.Flags), pk.UncompressedSize, pk.BlockCount)
		}
		w.Flush()
		fmt.Printf("  block sizes %v\n", fi.BlockSizes)

		showRefs, _ := cmd.Flags().GetBool("refs")
		if showRefs {
			w = tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  REF\tSLOT\tTARGET\tCOUNT")
			for i, r := range fi.Refs {
				fmt.Fprintf(w, "  %d\t%d:%d\t%d:%d\t%d\n",
					i, r.OffsetPack, r.Offset, r.PointingAtPack, r.PointingAt, r.Count)
			}
			w.Flush()
		}
		return nil
	},
}

func flagString(m serializer.MemType) string {
	s := ""
	if m.Unique() {
		s += "U"
	}
	if m.Temp() {
		s += "T"
	}
	if m.VRAM() {
		s += "V"
	}
	if s == "" {
		s = "-"
	}
	return s
}

func init() {
	inspectCmd.Flags().Bool("refs", false, "also list the pointer fix-up table")
	RootCmd.AddCommand(inspectCmd)
}

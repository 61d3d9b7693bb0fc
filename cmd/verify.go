package cmd

import (
	"bytes"
	"fmt"

	"github.com/TFMV/blockpack/internal/digest"
	"github.com/TFMV/blockpack/serializer"
	"github.com/TFMV/blockpack/stream"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Decompress every pack and report payload digests",
	Long: `Verify decompresses each pack of a container, checks the expanded
byte counts against the pack table, and prints an xxhash64 fingerprint
per pack plus a BLAKE3 digest of the whole payload.`,
	Args: cobra.ExactArgs(1),
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

		packs, err := serializer.ReadPackData(f, fi)
		if err != nil {
			return fmt.Errorf("payload verification failed: %w", err)
		}

		var whole bytes.Buffer
		for i, data := range packs {
			r := digest.Bytes(data, digest.XXHash64)
			if r.Error != nil {
				return r.Error
			}
			fmt.Printf("  pack %d  %s %s  %d bytes\n", i, r.Algorithm, r.Hash, len(data))
			whole.Write(data)
		}

		r := digest.Reader(&whole)
		if r.Error != nil {
			return r.Error
		}
		fmt.Printf("  payload %s %s  %d bytes\n", r.Algorithm, r.Hash, r.Size)
		fmt.Printf("OK: %d packs, %d pointers\n", len(fi.Packs), len(fi.Refs))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(verifyCmd)
}

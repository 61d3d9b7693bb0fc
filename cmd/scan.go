package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/TFMV/blockpack/internal/digest"
	"github.com/TFMV/blockpack/serializer"
	"github.com/TFMV/blockpack/stream"
	"github.com/karrick/godirwalk"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Find and summarize containers under a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, _ := cmd.Flags().GetString("ext")
		dupes, _ := cmd.Flags().GetBool("dupes")

		root := "."
		if len(args) > 0 {
			root = args[0]
		}

		// Sized for tens of thousands of packs; collisions are only
		// reported as "possible".
		var bloom *digest.Bloom
		if dupes {
			bloom = digest.NewBloom(100000, 1e-4)
		}

		found := 0
		err := godirwalk.Walk(root, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if !de.IsRegular() || filepath.Ext(path) != ext {
					return nil
				}
				if err := scanOne(path, bloom); err != nil {
					fmt.Printf("%s: %v\n", path, err)
					return nil
				}
				found++
				return nil
			},
			ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
				return godirwalk.SkipNode
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d container(s)\n", found)
		return nil
	},
}

func scanOne(path string, bloom *digest.Bloom) error {
	f, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := serializer.Inspect(f)
	if err != nil {
		return fmt.Errorf("not a container: %w", err)
	}
	fmt.Printf("%s: v%d, %d packs, %d pointers, %d bytes\n",
		path, fi.Header.ResourceVersion, fi.Header.NPacks, fi.Header.NPointers, fi.Header.SizeOfData)

	if bloom == nil {
		return nil
	}
	packs, err := serializer.ReadPackData(f, fi)
	if err != nil {
		return err
	}
	for i, data := range packs {
		if bloom.Insert(data) {
			fmt.Printf("  pack %d: possible duplicate payload (%d bytes)\n", i, len(data))
		}
	}
	return nil
}

func init() {
	scanCmd.Flags().String("ext", ".bpk", "container file extension to match")
	scanCmd.Flags().Bool("dupes", false, "flag probably-duplicate pack payloads across files")
	RootCmd.AddCommand(scanCmd)
}

package filestore

import (
	"io"
	"os"
)

// copyFile copies src to dst byte for byte, fsync-ing the destination
// before returning so a crash right after Promote/Stage cannot leave a
// truncated file behind.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

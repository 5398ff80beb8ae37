package source

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/vk/forgegrid/internal/pkgmodel"
)

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("source: unsupported hash algorithm %q", algo)
	}
}

// Verify checks every cached source file against its declared hash,
// joining every mismatch or missing file into one error so a caller sees
// the complete picture in one pass (spec.md §7 late-fail policy).
func (c *Cache) Verify(pkg *pkgmodel.Package) error {
	var errs []error
	for _, src := range pkg.Sources {
		if err := c.verifyOne(src); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) verifyOne(src pkgmodel.Source) error {
	path := c.PathFor(src)
	f, err := os.Open(path)
	if err != nil {
		return &VerifyError{Key: src.Key, Want: src.Hash.Hex}
	}
	defer f.Close()

	h, err := newHash(src.Hash.Algo)
	if err != nil {
		return err
	}
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("source: verify %s: %w", src.Key, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != src.Hash.Hex {
		return &VerifyError{Key: src.Key, Want: src.Hash.Hex, Got: got}
	}
	return nil
}

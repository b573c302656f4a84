package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// maxBinarySize limits extraction to prevent decompression bombs (1 GB).
const maxBinarySize = 1 << 30

func verifySHA256(data []byte, expectedHex string) error {
	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if !strings.EqualFold(actual, expectedHex) {
		return fmt.Errorf("checksum mismatch (expected %s, got %s)", expectedHex, actual)
	}
	return nil
}

func extractBinary(data []byte, format ArchiveFormat, binaryName, outPath string) error {
	switch format {
	case ArchiveTarGz:
		return extractBinaryFromTarGz(bytes.NewReader(data), binaryName, outPath)
	case ArchiveZip:
		return extractBinaryFromZip(data, binaryName, outPath)
	default:
		return fmt.Errorf("unsupported archive format %q", format)
	}
}

// extractBinaryFromTarGz writes the first regular file named binaryName to outPath.
func extractBinaryFromTarGz(r io.Reader, binaryName, outPath string) error {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer func() { _ = gzReader.Close() }()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := validateEntryPath(header.Name); err != nil {
			return err
		}
		if path.Base(header.Name) == binaryName {
			return writeBinary(tarReader, outPath)
		}
	}
	return fmt.Errorf("downloaded archive did not contain expected binary %q", binaryName)
}

// extractBinaryFromZip writes the first file named binaryName to outPath.
func extractBinaryFromZip(data []byte, binaryName, outPath string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := validateEntryPath(f.Name); err != nil {
			return err
		}
		if path.Base(f.Name) != binaryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to read zip entry: %w", err)
		}
		err = writeBinary(rc, outPath)
		_ = rc.Close()
		return err
	}
	return fmt.Errorf("downloaded archive did not contain expected binary %q", binaryName)
}

func writeBinary(r io.Reader, outPath string) error {
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create temp binary file: %w", err)
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxBinarySize)); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to extract binary: %w", err)
	}
	return f.Close()
}

// validateEntryPath rejects archive entries that would escape the archive root.
func validateEntryPath(name string) error {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return fmt.Errorf("invalid archive entry path: %s", name)
	}
	return nil
}

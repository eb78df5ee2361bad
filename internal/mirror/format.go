package mirror

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Format is the detected on-disk image format.
type Format string

const (
	FormatQCOW2 Format = "qcow2"
	FormatRaw   Format = "raw"
)

var (
	// qcow2Magic is "QFI" + 0xfb at offset 0 of every QCOW2 file.
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// mbrSignature is the boot sector signature at offset 510. GPT disks
	// carry it too, via the protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

// DetectFormat inspects magic bytes to confirm a downloaded payload really
// is a disk image. Upstream serves qcow2 under the .img extension; an HTML
// error page with a 200 status would otherwise reach qm importdisk.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", fmt.Errorf("file too small to be a disk image: %w", err)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return FormatQCOW2, nil
	}

	// Not qcow2; accept a raw image only when it has a boot sector.
	if _, err := f.Seek(510, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to seek to boot sector: %w", err)
	}
	sig := make([]byte, 2)
	if _, err := io.ReadFull(f, sig); err != nil {
		return "", fmt.Errorf("file too small for a boot sector: %w", err)
	}
	if bytes.Equal(sig, mbrSignature) {
		return FormatRaw, nil
	}

	return "", fmt.Errorf("neither qcow2 magic nor boot sector signature present")
}

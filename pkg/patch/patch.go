package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// Marker is the ASCII sequence embedded by the packaged program. One
// reserved NUL follows it, then the writable tag region.
const Marker = "__CYRUP_BUNDLE_TYPE"

// markerLen is fixed at 19 bytes; the write position is markerLen+1 past the
// marker start.
const markerLen = len(Marker)

// binFormat is the detected executable container format.
type binFormat int

const (
	formatUnknown binFormat = iota
	formatELF
	formatMachO
	formatPE
	formatCOFF
	formatArchive
)

// Apply stamps the binary at path with the package-type tag so the installed
// program can discover its delivery format. Unknown formats and missing
// markers are skipped silently; only I/O failures are errors.
//
// Patching must run before any code signing, since it rewrites bytes.
func Apply(path string, pkgType types.PackageType) error {
	logger := log.WithComponent("patch")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading binary %s: %w", path, err)
	}

	if len(data) < 16 {
		logger.Warn().Str("binary", path).Msg("binary too small for format detection, skipping patch")
		return nil
	}

	switch detectFormat(data[:16]) {
	case formatELF, formatMachO, formatPE:
	case formatCOFF:
		logger.Warn().Str("binary", path).Msg("COFF object file, not an executable, skipping patch")
		return nil
	case formatArchive:
		logger.Warn().Str("binary", path).Msg("archive file, not an executable, skipping patch")
		return nil
	default:
		logger.Warn().Str("binary", path).
			Hex("magic", data[:4]).Msg("unknown binary format, skipping patch")
		return nil
	}

	tag := []byte(pkgType.ShortName())
	offset := bytes.Index(data, []byte(Marker))
	if offset < 0 {
		logger.Debug().Str("binary", path).Msg("bundle-type marker not found, skipping patch")
		return nil
	}

	// One NUL is reserved after the marker; the tag starts right behind it.
	writePos := offset + markerLen + 1
	if writePos+len(tag) > len(data) {
		logger.Warn().Str("binary", path).Int("offset", writePos).
			Int("needed", len(tag)).Msg("insufficient space after marker, skipping patch")
		return nil
	}
	copy(data[writePos:], tag)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stating binary %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing patched binary %s: %w", path, err)
	}

	logger.Info().Str("binary", path).Str("tag", string(tag)).
		Int("offset", writePos).Msg("patched binary with package type")
	return nil
}

// detectFormat sniffs the container format from the first 16 bytes.
func detectFormat(hint []byte) binFormat {
	switch {
	case bytes.HasPrefix(hint, []byte{0x7F, 'E', 'L', 'F'}):
		return formatELF
	case bytes.HasPrefix(hint, []byte("!<arch>\n")):
		return formatArchive
	case bytes.HasPrefix(hint, []byte{'M', 'Z'}):
		return formatPE
	}

	magicBE := binary.BigEndian.Uint32(hint[:4])
	switch magicBE {
	case 0xFEEDFACE, 0xFEEDFACF, // Mach-O thin, both widths
		0xCEFAEDFE, 0xCFFAEDFE, // byte-swapped thin
		0xCAFEBABE, 0xBEBAFECA: // fat
		return formatMachO
	}

	// COFF objects start with a machine type; the common ones are below.
	machine := binary.LittleEndian.Uint16(hint[:2])
	switch machine {
	case 0x014C, 0x8664, 0xAA64: // i386, x86-64, arm64
		return formatCOFF
	}

	return formatUnknown
}

package bundle

import (
	"fmt"
	"strings"
)

// desktopEntry synthesizes the freedesktop .desktop file. Deterministic:
// same settings, same bytes.
func desktopEntry(s *Settings) string {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", s.DisplayName())
	if s.Description != "" {
		fmt.Fprintf(&b, "Comment=%s\n", firstLine(s.Description))
	}
	fmt.Fprintf(&b, "Exec=%s\n", s.MainBinary)
	fmt.Fprintf(&b, "Icon=%s\n", s.PackageName)
	b.WriteString("Terminal=false\n")
	b.WriteString("Categories=Development;\n")
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// debArch maps the display architecture to Debian's naming.
func debArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

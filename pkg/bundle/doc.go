/*
Package bundle builds the native installer artifacts.

Every platform bundler follows one contract: stage into a clean directory,
copy binaries with mode 0755, stamp them with the package-type tag, generate
platform metadata deterministically from Settings, and return one or more
artifact paths. The Registry validates the contract (non-empty path list,
non-empty files) and enforces that native-only formats are never built on a
foreign host.

Formats:

	.deb      ar(debian-binary, control.tar.gz, data.tar.gz), built in-process
	.rpm      typed builder (rpmpack), no rpmbuild needed
	.AppImage staged AppDir wrapped by appimagetool
	.app      directory bundle with synthesized Info.plist
	.dmg      hdiutil image around the signed, notarized .app
	.exe      NSIS script generated from a template, built by makensis

Binary patching always precedes code signing: the tag write alters bytes and
would break an existing signature.
*/
package bundle

/*
Package icon is the icon pipeline: it loads PNG sources, picks the nearest
source per target size, resizes with a high-quality filter, and encodes the
platform containers.

Selection minimizes the Manhattan distance to the target side plus a 10000
penalty for non-square sources, so a square source always wins when one
exists. Ties break toward the first source.

Encoders: the macOS icon family (.icns) with 1x and 2x entries up to 1024,
the Windows multi-size .ico with PNG payloads, and the freedesktop hicolor
tree for Linux packages.
*/
package icon

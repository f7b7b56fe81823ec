// Package sign wraps the platform signing collaborators: codesign and
// notarytool for macOS, osslsigncode for Windows authenticode. A signing
// failure is always fatal because signing only runs when explicitly
// configured.
package sign

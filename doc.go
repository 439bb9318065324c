// Package elfstr provides functionality for finding and rewriting the
// strings stored in 64-bit ELF files without changing the file's layout.
//
// APIs are separated into subpackages, and documented accordingly.
// The bytesurgeon command ties them together.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package elfstr

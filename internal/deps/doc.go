// Package deps checks the external executables murmur shells out to: the
// worker interpreter, ffmpeg, and drapto.
package deps

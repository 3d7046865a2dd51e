// Package drapto is the media-encoding collaborator. It runs Drapto either as
// a CLI subprocess that emits JSON progress lines or in-process through the
// Drapto library, and reports both through the same ProgressUpdate callback.
package drapto

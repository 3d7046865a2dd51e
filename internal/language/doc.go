// Package language normalizes user supplied language hints into the ISO 639-1
// codes the transcription worker expects.
//
// Input may be a BCP 47 tag ("de-DE"), an ISO 639-2 code in either the
// terminological or bibliographic form ("deu", "ger"), or an English word
// ("German"). The empty string and "auto" mean automatic detection.
package language

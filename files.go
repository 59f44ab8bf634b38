/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"fmt"
	"path"
	"strings"
)

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// sniffExt recognizes the audio containers browsers record into, returning
// "" when the magic bytes are unfamiliar.
func sniffExt(buf []byte) string {
	if len(buf) < 12 {
		return ""
	}

	switch {
	case bytes.HasPrefix(buf, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return ".webm"
	case bytes.HasPrefix(buf, []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WAVE")):
		return ".wav"
	case bytes.HasPrefix(buf, []byte("OggS")):
		return ".ogg"
	case bytes.Equal(buf[4:8], []byte("ftyp")):
		return ".m4a"
	case buf[0] == 0xff && buf[1]&0xf6 == 0xf0:
		return ".aac"
	}

	return ""
}

func extFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)

	switch {
	case strings.Contains(ct, "webm"):
		return ".webm"
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "ogg"):
		return ".ogg"
	case strings.Contains(ct, "aac"):
		return ".aac"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"):
		return ".m4a"
	}

	return ".bin"
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".webm":
		return "audio/webm"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".aac":
		return "audio/aac"
	case ".m4a", ".mp4":
		return "audio/mp4"
	}

	return "application/octet-stream"
}

// Package media downloads source attachments to temporary files for upload.
package media

import (
	"path"
	"strings"
)

type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindOther Kind = "other"
)

var kindByExt = map[string]Kind{
	"jpg": KindPhoto, "jpeg": KindPhoto, "png": KindPhoto, "gif": KindPhoto, "webp": KindPhoto,
	"mp4": KindVideo, "mov": KindVideo, "avi": KindVideo, "webm": KindVideo,
	"mp3": KindAudio, "wav": KindAudio, "ogg": KindAudio, "flac": KindAudio,
}

// KindOf classifies a file by its extension. Content type is used only when the
// name has no known extension.
func KindOf(filename, contentType string) Kind {
	if k, ok := kindByExt[Ext(filename)]; ok {
		return k
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindPhoto
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	}
	return KindOther
}

// Ext returns the lower-cased extension of name without the dot.
func Ext(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

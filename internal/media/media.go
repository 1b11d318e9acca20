// Package media classifies uploads by file extension.
package media

import (
	"fmt"
	"path/filepath"
	"strings"

	"mosquitoserver/internal/apperr"
)

type Kind int

const (
	Unknown Kind = iota
	Image
	Video
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

var extensions = map[string]Kind{
	".jpg":  Image,
	".jpeg": Image,
	".png":  Image,
	".mp4":  Video,
	".avi":  Video,
	".mov":  Video,
}

// KindOf reports the media kind for a file name, ignoring extension case.
func KindOf(name string) Kind {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// Validate returns the lower-cased extension of name when it is an accepted
// extension for want, and ErrUnsupportedFileType otherwise.
func Validate(name string, want Kind) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if kind := extensions[ext]; kind == Unknown || kind != want {
		return "", fmt.Errorf("%w: %q is not an accepted %s extension (use %s)",
			apperr.ErrUnsupportedFileType, ext, want, strings.Join(Extensions(want), ", "))
	}
	return ext, nil
}

// Extensions lists the accepted extensions for a kind.
func Extensions(kind Kind) []string {
	var out []string
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".mp4", ".avi", ".mov"} {
		if extensions[ext] == kind {
			out = append(out, ext)
		}
	}
	return out
}

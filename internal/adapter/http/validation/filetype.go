// Package validation checks client-supplied input before it reaches the
// prober or the encoder.
package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
)

// ErrDisallowedFileType is returned when a file is not a media type the
// caller accepts.
var ErrDisallowedFileType = errors.New("file type not allowed")

type Class string

const (
	ClassImage   Class = "image"
	ClassVideo   Class = "video"
	ClassAudio   Class = "audio"
	ClassUnknown Class = "unknown"
)

const sniffSize = 512

// Sniff reads the head of the file at path and returns its detected MIME
// type and media class.
func Sniff(path string) (string, Class, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", ClassUnknown, err
	}
	defer f.Close() //nolint:errcheck

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", ClassUnknown, err
	}
	if n == 0 {
		return "application/octet-stream", ClassUnknown, nil
	}
	mime := DetectMIME(buf[:n])
	return mime, classOf(mime), nil
}

// CheckMedia fails unless the file at path sniffs as one of the allowed
// classes.
func CheckMedia(path string, allowed ...Class) error {
	mime, class, err := Sniff(path)
	if err != nil {
		return err
	}
	if !slices.Contains(allowed, class) {
		return fmt.Errorf("%w: %s", ErrDisallowedFileType, mime)
	}
	return nil
}

// DetectMIME recognises the containers ffmpeg is commonly fed that
// http.DetectContentType misses, then falls back to it.
func DetectMIME(buf []byte) string {
	if mime := detectContainer(buf); mime != "" {
		return mime
	}
	mime := http.DetectContentType(buf)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

func detectContainer(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}
	switch {
	case buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3:
		return "video/x-matroska"
	case string(buf[:4]) == "fLaC":
		return "audio/flac"
	case string(buf[:3]) == "ID3":
		return "audio/mpeg"
	case buf[0] == 0xFF && (buf[1]&0xFE == 0xFA || buf[1]&0xFE == 0xF2):
		return "audio/mpeg"
	case buf[0] == 'B' && buf[1] == 'M':
		return "image/bmp"
	}
	if len(buf) >= 12 && string(buf[:4]) == "RIFF" {
		switch string(buf[8:12]) {
		case "WEBP":
			return "image/webp"
		case "WAVE":
			return "audio/wav"
		case "AVI ":
			return "video/x-msvideo"
		}
	}
	if len(buf) >= 12 && string(buf[4:8]) == "ftyp" {
		switch string(buf[8:12]) {
		case "M4A ", "M4B ":
			return "audio/mp4"
		case "qt  ":
			return "video/quicktime"
		default:
			return "video/mp4"
		}
	}
	return ""
}

func classOf(mime string) Class {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ClassImage
	case strings.HasPrefix(mime, "video/"):
		return ClassVideo
	case strings.HasPrefix(mime, "audio/"), mime == "application/ogg":
		return ClassAudio
	}
	return ClassUnknown
}

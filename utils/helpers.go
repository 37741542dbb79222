package utils

import (
	"bytes"
	"net/http"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatGIF     = "gif"
	formatWebP    = "webp"
	formatAVIF    = "avif"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// GIF: "GIF8"
	if bytes.HasPrefix(data, []byte("GIF8")) {
		return formatGIF
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return formatWebP
	}
	// AVIF: ISO-BMFF box "ftyp" at offset 4 with an avif/avis brand.
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "avif" || brand == "avis" {
			return formatAVIF
		}
	}
	// Fallback to net/http sniffing.
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/gif":
		return formatGIF
	case "image/webp":
		return formatWebP
	}
	return formatUnknown
}

// ContentType returns the MIME type to serve data with.  Unrecognised
// content is reported as application/octet-stream.
func ContentType(data []byte) string {
	switch DetectFormat(data) {
	case formatJPEG:
		return "image/jpeg"
	case formatPNG:
		return "image/png"
	case formatGIF:
		return "image/gif"
	case formatWebP:
		return "image/webp"
	case formatAVIF:
		return "image/avif"
	}
	return "application/octet-stream"
}

// FitWithin computes output (w, h) that fits inside a bound x bound box while
// preserving aspect ratio.  Images already inside the box are left alone.
func FitWithin(srcW, srcH, bound int) (int, int) {
	if bound <= 0 || (srcW <= bound && srcH <= bound) {
		return srcW, srcH
	}
	if srcW >= srcH {
		return ScaleDimensions(srcW, srcH, bound, 0)
	}
	return ScaleDimensions(srcW, srcH, 0, bound)
}

// ScaleDimensions computes output (w, h) preserving aspect ratio.
// Pass 0 for either axis to calculate it from the other.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		ratio := float64(targetH) / float64(srcH)
		return max(1, int(float64(srcW)*ratio)), targetH
	}
	if targetH == 0 {
		ratio := float64(targetW) / float64(srcW)
		return targetW, max(1, int(float64(srcH)*ratio))
	}
	return targetW, targetH
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

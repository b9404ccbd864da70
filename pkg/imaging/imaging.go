// Package imaging extracts embedded image URLs from post bodies and
// normalizes downloaded images before re-hosting, per spec §4.3: EXIF
// orient, flatten transparency/palette to RGB over white, resize to fit
// 1920x1080, recompress JPEG at quality 85 (PNG kept as PNG).
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/devco/forumblog-pipeline/internal/errs"
)

const (
	maxImageBytes = 10 * 1024 * 1024
	maxWidth      = 1920
	maxHeight     = 1080
	jpegQuality   = 85
)

var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)
	htmlImagePattern     = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["'][^>]*>`)
	bareImageURLPattern  = regexp.MustCompile(`(?i)https?://[^\s<>"]+\.(?:jpg|jpeg|png|gif|webp)(?:\?[^\s<>"]*)?`)

	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

	hostImagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^https?://i\.redd\.it/`),
		regexp.MustCompile(`(?i)^https?://(?:external-)?preview\.redd\.it/`),
		regexp.MustCompile(`(?i)^https?://i\.imgur\.com/`),
		regexp.MustCompile(`(?i)^https?://imgur\.com/`),
	}
)

// IsImageURL reports whether url looks like it points at an image, either
// by file extension or by matching a known image-hosting pattern.
func IsImageURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	if parsed, err := url.Parse(lower); err == nil {
		for _, ext := range imageExtensions {
			if strings.HasSuffix(parsed.Path, ext) {
				return true
			}
		}
	}
	for _, pattern := range hostImagePatterns {
		if pattern.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// ExtractImageURLs pulls candidate image URLs out of a rendered body:
// Markdown `![]()`, HTML `<img src=...>`, and bare image-suffix URLs,
// deduplicated in first-seen order.
func ExtractImageURLs(body string) []string {
	if body == "" {
		return nil
	}

	var candidates []string
	for _, m := range markdownImagePattern.FindAllStringSubmatch(body, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range htmlImagePattern.FindAllStringSubmatch(body, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, bareImageURLPattern.FindAllString(body, -1)...)

	seen := make(map[string]bool, len(candidates))
	var urls []string
	for _, c := range candidates {
		if !IsImageURL(c) || seen[c] {
			continue
		}
		seen[c] = true
		urls = append(urls, c)
	}
	return urls
}

// Downloaded is a verified, size-bounded image download.
type Downloaded struct {
	Bytes       []byte
	ContentType string
}

// Download fetches url, rejecting anything over maxImageBytes or whose
// Content-Type isn't image/*.
func Download(httpClient *http.Client, url string) (Downloaded, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return Downloaded{}, err
	}
	req.Header.Set("User-Agent", "forumblog-pipeline/1.0 (image fetch)")

	client := httpClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Downloaded{}, errs.New(errs.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Downloaded{}, errs.Newf(errs.KindTransient, "image host returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return Downloaded{}, errs.Newf(errs.KindTerminal, "image host returned %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return Downloaded{}, errs.Newf(errs.KindValidation, "url does not point to an image: content-type %q", contentType)
	}

	limited := io.LimitReader(resp.Body, maxImageBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Downloaded{}, errs.New(errs.KindTransient, err)
	}
	if len(data) > maxImageBytes {
		return Downloaded{}, errs.Newf(errs.KindValidation, "image exceeds %d byte limit", maxImageBytes)
	}

	return Downloaded{Bytes: data, ContentType: contentType}, nil
}

// Normalize flattens transparency/palette to RGB over white, resizes to
// fit within 1920x1080 preserving aspect ratio, and recompresses as JPEG
// quality 85 — unless the source is already PNG, which is kept as PNG
// after flattening and resizing.
func Normalize(data []byte, contentType string) (out []byte, outContentType string, err error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errs.New(errs.KindValidation, fmt.Errorf("decoding image: %w", err))
	}

	oriented := applyEXIFOrientation(img, exifOrientation(data))
	flattened := flattenToRGB(oriented)
	resized := resizeToFit(flattened, maxWidth, maxHeight)

	var buf bytes.Buffer
	if format == "png" {
		if err := png.Encode(&buf, resized); err != nil {
			return nil, "", fmt.Errorf("encoding png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}

	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// exifOrientation scans a JPEG's APP1/Exif segment for tag 0x0112
// (Orientation) without pulling in a full EXIF-parsing dependency; it
// returns 1 (identity) for non-JPEG input or when the tag is absent.
func exifOrientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 1
	}
	for i := 2; i+4 <= len(data); {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]
		if marker == 0xD8 || marker == 0xD9 {
			i += 2
			continue
		}
		segLen := int(data[i+2])<<8 | int(data[i+3])
		if marker == 0xE1 && i+4+segLen <= len(data) {
			if o, ok := parseExifOrientation(data[i+4 : i+4+segLen]); ok {
				return o
			}
		}
		if marker == 0xDA {
			break // start of scan, no more markers to check
		}
		i += 2 + segLen
	}
	return 1
}

// parseExifOrientation looks for the Orientation IFD entry within a raw
// Exif APP1 payload (big- or little-endian TIFF header).
func parseExifOrientation(payload []byte) (int, bool) {
	if len(payload) < 14 || string(payload[:6]) != "Exif\x00\x00" {
		return 0, false
	}
	tiff := payload[6:]
	if len(tiff) < 8 {
		return 0, false
	}

	var bo func([]byte) uint16
	var bo32 func([]byte) uint32
	switch string(tiff[:2]) {
	case "II":
		bo = func(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
		bo32 = func(b []byte) uint32 { return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24 }
	case "MM":
		bo = func(b []byte) uint16 { return uint16(b[1]) | uint16(b[0])<<8 }
		bo32 = func(b []byte) uint32 { return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24 }
	default:
		return 0, false
	}

	ifdOffset := bo32(tiff[4:8])
	if int(ifdOffset)+2 > len(tiff) {
		return 0, false
	}
	count := int(bo(tiff[ifdOffset : ifdOffset+2]))
	entryStart := int(ifdOffset) + 2
	for e := 0; e < count; e++ {
		off := entryStart + e*12
		if off+12 > len(tiff) {
			break
		}
		tag := bo(tiff[off : off+2])
		if tag == 0x0112 {
			return int(bo(tiff[off+8 : off+10])), true
		}
	}
	return 0, false
}

// applyEXIFOrientation rotates/flips img so its pixels are stored
// upright, per the standard 1-8 EXIF orientation values.
func applyEXIFOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipHorizontal(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipVertical(img)
	case 5:
		return flipHorizontal(rotate90(img))
	case 6:
		return rotate90(img)
	case 7:
		return flipHorizontal(rotate270(img))
	case 8:
		return rotate270(img)
	default:
		return img
	}
}

func rotate90(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.Y-1-y, x, img.At(x, y))
		}
	}
	return dst
}

func rotate270(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(y, b.Max.X-1-x, img.At(x, y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-x, b.Max.Y-1-y, img.At(x, y))
		}
	}
	return dst
}

func flipHorizontal(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-x, y, img.At(x, y))
		}
	}
	return dst
}

func flipVertical(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, b.Max.Y-1-y, img.At(x, y))
		}
	}
	return dst
}

// flattenToRGB draws img onto a white RGBA canvas, eliminating any alpha
// channel so downstream JPEG encoding never sees transparency.
func flattenToRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Over)
	return dst
}

// resizeToFit scales img down (never up) so it fits within maxW x maxH,
// preserving aspect ratio, using a high-quality resampler.
func resizeToFit(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := float64(maxW) / float64(w)
	if hs := float64(maxH) / float64(h); hs < scale {
		scale = hs
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}

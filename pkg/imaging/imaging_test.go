package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestIsImageURL_ByExtension(t *testing.T) {
	if !IsImageURL("https://example.com/a/b/c.jpg") {
		t.Error("expected .jpg URL to be detected as an image")
	}
	if IsImageURL("https://example.com/a/b/c") {
		t.Error("expected extensionless, non-host-matching URL to not be detected as an image")
	}
}

func TestIsImageURL_ByHostPattern(t *testing.T) {
	if !IsImageURL("https://i.redd.it/abcdef") {
		t.Error("expected i.redd.it URL to be detected as an image by host pattern")
	}
}

func TestExtractImageURLs_Markdown(t *testing.T) {
	body := "check this out ![alt text](https://i.redd.it/foo.jpg) neat"
	urls := ExtractImageURLs(body)
	if len(urls) != 1 || urls[0] != "https://i.redd.it/foo.jpg" {
		t.Errorf("ExtractImageURLs() = %v", urls)
	}
}

func TestExtractImageURLs_HTML(t *testing.T) {
	body := `<img src="https://i.imgur.com/foo.png" alt="x">`
	urls := ExtractImageURLs(body)
	if len(urls) != 1 || urls[0] != "https://i.imgur.com/foo.png" {
		t.Errorf("ExtractImageURLs() = %v", urls)
	}
}

func TestExtractImageURLs_BareURL(t *testing.T) {
	body := "see https://example.com/photo.webp for details"
	urls := ExtractImageURLs(body)
	if len(urls) != 1 || urls[0] != "https://example.com/photo.webp" {
		t.Errorf("ExtractImageURLs() = %v", urls)
	}
}

func TestExtractImageURLs_DedupesPreservingOrder(t *testing.T) {
	body := "https://example.com/a.jpg and again https://example.com/a.jpg then https://example.com/b.png"
	urls := ExtractImageURLs(body)
	if len(urls) != 2 {
		t.Fatalf("ExtractImageURLs() = %v, want 2 unique URLs", urls)
	}
}

func TestNormalize_FlattensTransparentPNGAndKeepsPNGFormat(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 0})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture png: %v", err)
	}

	out, contentType, err := Normalize(buf.Bytes(), "image/png")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if contentType != "image/png" {
		t.Errorf("contentType = %q, want image/png", contentType)
	}

	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding normalized output: %v", err)
	}
	r, g, b, a := decoded.At(0, 0).RGBA()
	if a != 0xffff {
		t.Errorf("expected fully opaque pixel after flattening, got alpha=%d", a)
	}
	if r == 0 && g == 0 && b == 0 {
		t.Error("expected non-black background after white-flatten")
	}
}

func TestNormalize_ResizesOversizedImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4000, 2000))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding fixture jpeg: %v", err)
	}

	out, contentType, err := Normalize(buf.Bytes(), "image/jpeg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("contentType = %q, want image/jpeg", contentType)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding normalized output: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() > maxWidth || b.Dy() > maxHeight {
		t.Errorf("resized bounds = %v, want within %dx%d", b, maxWidth, maxHeight)
	}
}

func TestNormalize_RejectsGarbageInput(t *testing.T) {
	if _, _, err := Normalize([]byte("not an image"), "image/jpeg"); err == nil {
		t.Fatal("expected error decoding non-image bytes")
	}
}

func TestExifOrientation_DefaultsToIdentityForNonJPEG(t *testing.T) {
	if got := exifOrientation([]byte("not a jpeg")); got != 1 {
		t.Errorf("exifOrientation(non-jpeg) = %d, want 1", got)
	}
}

func TestApplyEXIFOrientation_Rotate90PreservesPixel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})

	rotated := applyEXIFOrientation(img, 6)
	b := rotated.Bounds()
	if b.Dx() != 1 || b.Dy() != 2 {
		t.Fatalf("rotated bounds = %v, want 1x2", b)
	}
	if r, _, _, _ := rotated.At(0, 0).RGBA(); r != 0xffff {
		t.Errorf("rotated.At(0,0) = %v, want the red source pixel", rotated.At(0, 0))
	}
	if _, _, bl, _ := rotated.At(0, 1).RGBA(); bl != 0xffff {
		t.Errorf("rotated.At(0,1) = %v, want the blue source pixel", rotated.At(0, 1))
	}
}

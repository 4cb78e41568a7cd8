// Package media validates uploaded images and renders preview thumbnails.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// Info describes a successfully decoded upload.
type Info struct {
	MimeType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// decodeBase64 accepts both bare base64 and browser data URLs
// ("data:image/png;base64,....").
func decodeBase64(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		_, after, ok := strings.Cut(data, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data URL")
		}
		data = after
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	return raw, nil
}

// Decode turns a base64 image payload into a decoded image, honoring EXIF
// orientation.
func Decode(data string) (image.Image, error) {
	raw, err := decodeBase64(data)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Validate checks that data is a decodable image and reports its dimensions.
func Validate(data, mimeType string) (Info, error) {
	img, err := Decode(data)
	if err != nil {
		return Info{}, err
	}
	bounds := img.Bounds()
	if mimeType == "" {
		mimeType = "image/png"
	}
	return Info{
		MimeType: mimeType,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// ThumbnailPNG renders a PNG thumbnail bounded by maxSize on the longer side.
func ThumbnailPNG(data string, maxSize int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	thumb := imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

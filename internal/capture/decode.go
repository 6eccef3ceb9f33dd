package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// maxDecodeSide bounds the image handed to the QR reader. Phone photos are
// far larger than a QR code needs.
const maxDecodeSide = 1600

// ErrNoCode is returned when an image holds no recognisable QR code
var ErrNoCode = errors.New("no QR code found in image")

// DecodeImage recognises the QR code in an encoded image. PNG, JPEG, GIF,
// BMP, TIFF and WebP are accepted.
func DecodeImage(r io.Reader, tryHarder bool) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	img, err := decodeRaster(data)
	if err != nil {
		return "", err
	}
	return DecodeFrame(img, tryHarder)
}

// DecodeFrame recognises the QR code in an already decoded frame
func DecodeFrame(img image.Image, tryHarder bool) (string, error) {
	b := img.Bounds()
	if b.Dx() > maxDecodeSide || b.Dy() > maxDecodeSide {
		img = imaging.Fit(img, maxDecodeSide, maxDecodeSide, imaging.Lanczos)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("failed to binarize image: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return res.GetText(), nil
}

func decodeRaster(data []byte) (image.Image, error) {
	if isWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode webp: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// isWebP checks the RIFF container header
func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

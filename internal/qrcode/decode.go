package qrcode

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // сканы напечатанных карт
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	gzqrcode "github.com/makiuchi-d/gozxing/qrcode"
)

// quietZone — белое поле, добавляемое перед распознаванием.
const quietZone = 32

// Decode распознаёт QR-код на изображении (PNG или JPEG) и возвращает содержимое.
func Decode(data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("ошибка чтения изображения: %w", err)
	}

	// Узкое поле вокруг кода мешает поиску шаблонов — расширяем его
	b := src.Bounds()
	canvas := image.NewGray(image.Rect(0, 0, b.Dx()+2*quietZone, b.Dy()+2*quietZone))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, b.Sub(b.Min).Add(image.Pt(quietZone, quietZone)), src, b.Min, draw.Src)

	bmp, err := gozxing.NewBinaryBitmapFromImage(canvas)
	if err != nil {
		return "", fmt.Errorf("ошибка подготовки изображения: %w", err)
	}

	result, err := gzqrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("QR-код не распознан: %w", err)
	}
	return result.GetText(), nil
}

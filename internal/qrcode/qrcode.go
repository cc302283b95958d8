// Пакет qrcode — генерация PNG-изображений QR-кодов для ссылок
// на страницы просмотра записей.
package qrcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	goqrcode "github.com/skip2/go-qrcode"
)

// ErrPayloadTooLarge — содержимое не помещается в QR-код.
var ErrPayloadTooLarge = errors.New("содержимое слишком велико для QR-кода")

// Renderer рисует QR-коды фиксированного размера.
// Результат детерминирован: одинаковое содержимое даёт одинаковые байты PNG.
type Renderer struct {
	// width — сторона изображения в пикселях
	width int
	// margin — поле вокруг кода в модулях
	margin int
	// level — уровень коррекции ошибок
	level goqrcode.RecoveryLevel
}

// NewRenderer создаёт генератор QR-кодов.
func NewRenderer(width, margin int) *Renderer {
	return &Renderer{width: width, margin: margin, level: goqrcode.Medium}
}

// Render возвращает PNG с QR-кодом содержимого payload.
// Модули масштабируются целым коэффициентом, остаток ширины
// распределяется по краям белым полем.
func (r *Renderer) Render(payload string) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("пустое содержимое QR-кода")
	}

	q, err := goqrcode.New(payload, r.level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	}
	q.DisableBorder = true
	bitmap := q.Bitmap()

	modules := len(bitmap) + 2*r.margin
	scale := r.width / modules
	if scale < 1 {
		scale = 1
	}
	size := r.width
	if modules*scale > size {
		size = modules * scale
	}
	offset := (size - len(bitmap)*scale) / 2

	// Индекс 0 палитры — белый фон
	palette := color.Palette{color.White, color.Black}
	img := image.NewPaletted(image.Rect(0, 0, size, size), palette)

	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			x0, y0 := offset+x*scale, offset+y*scale
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetColorIndex(x0+dx, y0+dy, 1)
				}
			}
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("ошибка кодирования PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Width возвращает сторону изображения в пикселях.
func (r *Renderer) Width() int {
	return r.width
}

// Пакет model — доменные модели WQT: записи, виды записей и их схемы полей.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Record — запись с последовательным идентификатором и связанными
// артефактами (фото и QR-код) в объектном хранилище.
type Record struct {
	// Kind — вид записи (certificate, card, operator, steel-card)
	Kind string `json:"kind"`
	// SequenceNumber — порядковый номер внутри вида, назначается один раз
	SequenceNumber int64 `json:"sequence_number"`
	// PublicID — публичный идентификатор (<prefix><sequence_number>), неизменяемый
	PublicID string `json:"public_id"`
	// PhotoURL — URL фотографии в объектном хранилище
	PhotoURL string `json:"photo_url"`
	// QRCodeURL — URL PNG-изображения QR-кода
	QRCodeURL string `json:"qr_code_url"`
	// Fields — поля, специфичные для вида записи
	Fields Fields `json:"fields"`
	// CreatedBy, UpdatedBy — идентификаторы пользователей
	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields — произвольные поля записи. Значения: string, *TestResult, *Table.
// Хранятся в PostgreSQL как JSONB.
type Fields map[string]any

// String возвращает строковое значение поля или пустую строку.
func (f Fields) String(name string) string {
	v, ok := f[name]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

// Table возвращает табличное поле или nil.
func (f Fields) Table(name string) *Table {
	t, _ := f[name].(*Table)
	return t
}

// Clone возвращает поверхностную копию полей с глубоким копированием таблиц
// и результатов испытаний.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		switch val := v.(type) {
		case *Table:
			out[k] = val.Clone()
		case *TestResult:
			c := *val
			out[k] = &c
		default:
			out[k] = v
		}
	}
	return out
}

// TestResult — результат испытания (визуальный контроль, УЗК, изгиб и т.д.).
type TestResult struct {
	Performed    bool   `json:"performed"`
	Results      string `json:"results"`
	ReportNumber string `json:"reportNumber"`
}

// Table — динамическая таблица с заголовками и строками.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Clone возвращает глубокую копию таблицы.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := &Table{Headers: append([]string(nil), t.Headers...)}
	if t.Rows != nil {
		c.Rows = make([][]string, len(t.Rows))
		for i, row := range t.Rows {
			c.Rows[i] = append([]string(nil), row...)
		}
	}
	return c
}

// SetCell записывает значение в ячейку, расширяя таблицу при необходимости.
func (t *Table) SetCell(row, col int, value string) {
	for len(t.Rows) <= row {
		t.Rows = append(t.Rows, []string{})
	}
	for len(t.Rows[row]) <= col {
		t.Rows[row] = append(t.Rows[row], "")
	}
	t.Rows[row][col] = value
}

// NextSequence вычисляет следующий порядковый номер.
// last — номер самой свежей записи (nil, если отсутствует или повреждён),
// total — количество записей вида. Пустая коллекция даёт 1.
func NextSequence(last *int64, total int64) int64 {
	if last != nil && *last > 0 {
		return *last + 1
	}
	return total + 1
}

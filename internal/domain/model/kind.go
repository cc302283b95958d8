package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldType — тип поля записи.
type FieldType string

const (
	// FieldText — строковое поле
	FieldText FieldType = "text"
	// FieldTestResult — результат испытания {performed, results, reportNumber}
	FieldTestResult FieldType = "test_result"
	// FieldTable — динамическая таблица {headers, rows}
	FieldTable FieldType = "table"
)

// FieldSpec — описание поля в схеме вида записи.
type FieldSpec struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	// Default — значение по умолчанию для текстового поля
	Default string `json:"default,omitempty"`
}

// ValidationError — ошибка валидации полей записи.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Kind — вид записи. Описывает префикс идентификатора, размещение
// артефактов в хранилище, схему полей и правила производных полей.
// Все виды обрабатываются одним обобщённым движком.
type Kind struct {
	// Name — имя вида и сегмент маршрута (/{name}/view/{publicId})
	Name string
	// Title — человекочитаемое название
	Title string
	// Prefix — префикс публичного идентификатора
	Prefix string
	// Folder — корневая папка артефактов в хранилище
	Folder string
	// ObjectBase — базовое имя объектов (<base>-<publicId>, <base>-<publicId>-qr)
	ObjectBase string
	// PhotoFields — имена полей multipart-формы с фотографией
	PhotoFields []string
	// Schema — поля вида
	Schema []FieldSpec
	// Preserved — поля, которые при обновлении всегда берутся из существующей записи
	Preserved []string

	// onCreate вычисляет производные поля при создании
	onCreate func(f Fields, seq int64, publicID string)
	// onUpdate применяет правила вида при обновлении (после переноса Preserved)
	onUpdate func(f Fields, existing *Record)
}

// DeriveID возвращает публичный идентификатор для порядкового номера.
func (k *Kind) DeriveID(seq int64) string {
	return k.Prefix + strconv.FormatInt(seq, 10)
}

// ViewPath возвращает путь страницы просмотра записи.
func (k *Kind) ViewPath(publicID string) string {
	return "/" + k.Name + "/view/" + publicID
}

// ArtifactFolder возвращает папку артефактов записи.
func (k *Kind) ArtifactFolder(publicID string) string {
	return k.Folder + "/" + publicID
}

// PhotoObject возвращает имя объекта фотографии.
func (k *Kind) PhotoObject(publicID string) string {
	return fmt.Sprintf("%s/%s-%s.jpg", k.ArtifactFolder(publicID), k.ObjectBase, publicID)
}

// QRObject возвращает имя объекта QR-кода.
func (k *Kind) QRObject(publicID string) string {
	return fmt.Sprintf("%s/%s-%s-qr.png", k.ArtifactFolder(publicID), k.ObjectBase, publicID)
}

// OwnsPublicID проверяет, что идентификатор имеет префикс вида и
// числовой порядковый номер.
func (k *Kind) OwnsPublicID(publicID string) bool {
	rest, ok := strings.CutPrefix(publicID, k.Prefix)
	if !ok || rest == "" {
		return false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	return err == nil && n > 0 && strconv.FormatInt(n, 10) == rest
}

// Field возвращает описание поля по имени.
func (k *Kind) Field(name string) (FieldSpec, bool) {
	for _, f := range k.Schema {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Normalize приводит входные значения к типам схемы и отбрасывает
// неизвестные поля. Производные поля пока не заполняются.
// Значения: string, json.RawMessage/map для составных полей.
func (k *Kind) Normalize(raw map[string]any) (Fields, error) {
	out := make(Fields, len(raw))
	for _, fd := range k.Schema {
		v, ok := raw[fd.Name]
		if !ok || v == nil {
			continue
		}
		switch fd.Type {
		case FieldText:
			s, err := toText(v)
			if err != nil {
				return nil, &ValidationError{Field: fd.Name, Message: err.Error()}
			}
			out[fd.Name] = strings.TrimSpace(s)
		case FieldTestResult:
			tr, err := toTestResult(v)
			if err != nil {
				return nil, &ValidationError{Field: fd.Name, Message: err.Error()}
			}
			if tr != nil {
				out[fd.Name] = tr
			}
		case FieldTable:
			t, err := toTable(v)
			if err != nil {
				return nil, &ValidationError{Field: fd.Name, Message: err.Error()}
			}
			if t != nil {
				out[fd.Name] = t
			}
		}
	}
	return out, nil
}

// Validate проверяет обязательные поля.
func (k *Kind) Validate(f Fields) error {
	for _, fd := range k.Schema {
		if !fd.Required {
			continue
		}
		switch fd.Type {
		case FieldText:
			if f.String(fd.Name) == "" {
				return &ValidationError{Field: fd.Name, Message: "обязательное поле не заполнено"}
			}
		default:
			if f[fd.Name] == nil {
				return &ValidationError{Field: fd.Name, Message: "обязательное поле не заполнено"}
			}
		}
	}
	return nil
}

// ApplyCreate заполняет значения по умолчанию и производные поля новой записи.
func (k *Kind) ApplyCreate(f Fields, seq int64, publicID string) {
	for _, fd := range k.Schema {
		if fd.Default != "" && f.String(fd.Name) == "" {
			f[fd.Name] = fd.Default
		}
	}
	if k.onCreate != nil {
		k.onCreate(f, seq, publicID)
	}
}

// ApplyUpdate переносит сохраняемые поля из существующей записи и
// применяет правила вида.
func (k *Kind) ApplyUpdate(f Fields, existing *Record) {
	for _, name := range k.Preserved {
		if v, ok := existing.Fields[name]; ok {
			f[name] = v
		} else {
			delete(f, name)
		}
	}
	for _, fd := range k.Schema {
		if fd.Default == "" || f.String(fd.Name) != "" {
			continue
		}
		if prev := existing.Fields.String(fd.Name); prev != "" {
			f[fd.Name] = prev
		} else {
			f[fd.Name] = fd.Default
		}
	}
	if k.onUpdate != nil {
		k.onUpdate(f, existing)
	}
}

// DecodeFields разбирает JSONB из базы данных в типизированные поля.
func (k *Kind) DecodeFields(data []byte) (Fields, error) {
	if len(data) == 0 {
		return Fields{}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора полей записи: %w", err)
	}

	out := make(Fields, len(raw))
	for name, msg := range raw {
		fd, ok := k.Field(name)
		if !ok {
			// Поле, удалённое из схемы, сохраняем как есть
			var v any
			if err := json.Unmarshal(msg, &v); err != nil {
				return nil, fmt.Errorf("поле %s: %w", name, err)
			}
			out[name] = v
			continue
		}
		switch fd.Type {
		case FieldTestResult:
			var tr TestResult
			if err := json.Unmarshal(msg, &tr); err != nil {
				return nil, fmt.Errorf("поле %s: %w", name, err)
			}
			out[name] = &tr
		case FieldTable:
			var t Table
			if err := json.Unmarshal(msg, &t); err != nil {
				return nil, fmt.Errorf("поле %s: %w", name, err)
			}
			out[name] = &t
		default:
			var s string
			if err := json.Unmarshal(msg, &s); err != nil {
				return nil, fmt.Errorf("поле %s: %w", name, err)
			}
			out[name] = s
		}
	}
	return out, nil
}

// --- Приведение типов ---

func toText(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []string:
		if len(s) == 0 {
			return "", nil
		}
		return s[0], nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case json.Number:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return "", fmt.Errorf("ожидается строка, получено %T", v)
	}
}

func toTestResult(v any) (*TestResult, error) {
	switch val := v.(type) {
	case *TestResult:
		c := *val
		return &c, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		var tr TestResult
		if err := json.Unmarshal([]byte(val), &tr); err != nil {
			return nil, fmt.Errorf("некорректный результат испытания: %w", err)
		}
		return &tr, nil
	case map[string]any:
		tr := &TestResult{}
		if p, ok := val["performed"]; ok {
			b, err := toBool(p)
			if err != nil {
				return nil, err
			}
			tr.Performed = b
		}
		if r, ok := val["results"]; ok {
			s, err := toText(r)
			if err != nil {
				return nil, err
			}
			tr.Results = s
		}
		if r, ok := val["reportNumber"]; ok {
			s, err := toText(r)
			if err != nil {
				return nil, err
			}
			tr.ReportNumber = s
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("ожидается объект результата испытания, получено %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "yes", "1":
			return true, nil
		case "", "false", "off", "no", "0":
			return false, nil
		}
		return false, fmt.Errorf("некорректное логическое значение %q", b)
	default:
		return false, fmt.Errorf("ожидается логическое значение, получено %T", v)
	}
}

func toTable(v any) (*Table, error) {
	switch val := v.(type) {
	case *Table:
		return val.Clone(), nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		var t Table
		if err := json.Unmarshal([]byte(val), &t); err != nil {
			return nil, fmt.Errorf("некорректная таблица: %w", err)
		}
		return &t, nil
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		var t Table
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("некорректная таблица: %w", err)
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("ожидается таблица, получено %T", v)
	}
}

// --- Реестр видов ---

var registry = map[string]*Kind{}

func register(k *Kind) *Kind {
	registry[k.Name] = k
	return k
}

// KindByName возвращает вид записи по имени.
func KindByName(name string) (*Kind, bool) {
	k, ok := registry[name]
	return k, ok
}

// Kinds возвращает все виды записей, отсортированные по имени.
func Kinds() []*Kind {
	out := make([]*Kind, 0, len(registry))
	for _, k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KindNames возвращает имена всех видов.
func KindNames() []string {
	kinds := Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Name
	}
	return names
}

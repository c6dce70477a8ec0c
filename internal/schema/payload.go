// Package schema проверяет полезную нагрузку тайлов по JSON Schema карты.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidSchema схема карты не является корректной JSON Schema
var ErrInvalidSchema = errors.New("invalid payload schema")

// ErrPayloadRejected полезная нагрузка тайла не прошла проверку схемой
var ErrPayloadRejected = errors.New("payload rejected by schema")

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// colorFormatChecker формат "color": цвет токена или тумана в виде #rrggbb
type colorFormatChecker struct{}

func (colorFormatChecker) IsFormat(input interface{}) bool {
	s, ok := input.(string)
	return ok && colorPattern.MatchString(s)
}

var registerOnce sync.Once

// RegisterFormats регистрирует собственные форматы (вызывается автоматически в Compile)
func RegisterFormats() {
	registerOnce.Do(func() {
		gojsonschema.FormatCheckers.Add("color", colorFormatChecker{})
	})
}

// PayloadValidator скомпилированная схема полезной нагрузки тайлов
type PayloadValidator struct {
	schema *gojsonschema.Schema
	raw    json.RawMessage
}

// Compile компилирует схему один раз; пустая схема означает отсутствие проверки (nil, nil)
func Compile(raw json.RawMessage) (*PayloadValidator, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return nil, nil
	}
	RegisterFormats()

	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &PayloadValidator{schema: s, raw: append(json.RawMessage(nil), raw...)}, nil
}

// Raw исходный текст схемы
func (v *PayloadValidator) Raw() json.RawMessage {
	if v == nil {
		return nil
	}
	return v.raw
}

// Validate проверяет payload; nil проверяется как пустой объект.
// Nil-валидатор пропускает всё.
func (v *PayloadValidator) Validate(payload map[string]interface{}) error {
	if v == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadRejected, err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrPayloadRejected, strings.Join(reasons, "; "))
	}
	return nil
}

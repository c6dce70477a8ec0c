package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const terrainSchema = `{
	"type": "object",
	"required": ["terrain"],
	"properties": {
		"terrain": {"type": "string", "enum": ["grass", "water", "wall"]},
		"fog": {"type": "string", "format": "color"}
	}
}`

func TestCompile_Empty(t *testing.T) {
	for _, raw := range []string{"", "  ", "null"} {
		v, err := Compile(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Nil(t, v)
		// Nil-валидатор пропускает любую нагрузку
		assert.NoError(t, v.Validate(map[string]interface{}{"anything": 1}))
	}
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile(json.RawMessage(`{"type": 42}`))
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = Compile(json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestPayloadValidator(t *testing.T) {
	v, err := Compile(json.RawMessage(terrainSchema))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.JSONEq(t, terrainSchema, string(v.Raw()))

	assert.NoError(t, v.Validate(map[string]interface{}{"terrain": "grass"}))
	assert.NoError(t, v.Validate(map[string]interface{}{"terrain": "water", "fog": "#a0B1c2"}))

	err = v.Validate(map[string]interface{}{"terrain": "lava"})
	assert.ErrorIs(t, err, ErrPayloadRejected)

	err = v.Validate(map[string]interface{}{"terrain": "wall", "fog": "grey"})
	assert.ErrorIs(t, err, ErrPayloadRejected)

	// nil проверяется как пустой объект: required не выполнен
	err = v.Validate(nil)
	assert.ErrorIs(t, err, ErrPayloadRejected)
	assert.Contains(t, err.Error(), "terrain")
}

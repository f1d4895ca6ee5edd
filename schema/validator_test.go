package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aipartnerup/apcore-go/schema"
)

type addInput struct {
	A       int    `apcore:"a" validate:"required"`
	B       int    `apcore:"b" validate:"required"`
	Comment string `apcore:"comment" sensitive:"true"`
}

func TestValidateAcceptsWellFormedInput(t *testing.T) {
	v := schema.FromStruct((*addInput)(nil))
	result := v.Validate(map[string]any{"a": 1, "b": 2})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	v := schema.FromStruct((*addInput)(nil))
	result := v.Validate(map[string]any{"a": 1})
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "B", result.Errors[0]["field"])
}

func TestProjectMarksSensitiveField(t *testing.T) {
	v := schema.FromStruct((*addInput)(nil))
	node := v.Project()
	var found bool
	for _, child := range node.Children {
		if child.Name == "comment" {
			found = true
			assert.True(t, child.Sensitive)
		}
		if child.Name == "a" {
			assert.True(t, child.Required)
		}
	}
	assert.True(t, found)
}

type profile struct {
	Name string `apcore:"name"`
	SSN  string `apcore:"ssn" sensitive:"true"`
}

type profileInput struct {
	Profile profile  `apcore:"profile"`
	Tokens  []string `apcore:"tokens" sensitive:"true"`
}

func TestProjectRecursesIntoNestedStruct(t *testing.T) {
	v := schema.FromStruct((*profileInput)(nil))
	node := v.Project()

	var ssnSensitive, nameSensitive, tokensSensitive bool
	var foundProfile bool
	for _, child := range node.Children {
		if child.Name == "profile" {
			foundProfile = true
			for _, grandchild := range child.Children {
				if grandchild.Name == "ssn" {
					ssnSensitive = grandchild.Sensitive
				}
				if grandchild.Name == "name" {
					nameSensitive = grandchild.Sensitive
				}
			}
		}
		if child.Name == "tokens" {
			tokensSensitive = child.Sensitive
		}
	}
	assert.True(t, foundProfile)
	assert.True(t, ssnSensitive)
	assert.False(t, nameSensitive)
	assert.True(t, tokensSensitive)
}

func TestValidationResultToError(t *testing.T) {
	v := schema.FromStruct((*addInput)(nil))
	result := v.Validate(map[string]any{})
	err := schema.ValidationResultToError(result)
	require.Error(t, err)

	okResult := v.Validate(map[string]any{"a": 1, "b": 2})
	assert.NoError(t, schema.ValidationResultToError(okResult))
}

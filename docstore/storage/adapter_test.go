package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableName(t *testing.T) {
	a := TableName("app", "users")
	assert.Equal(t, a, TableName("app", "users"))
	assert.NotEqual(t, a, TableName("app", "posts"))
	assert.NotEqual(t, TableName("ab", "c"), TableName("a", "bc"))
	assert.True(t, strings.HasPrefix(a, "ds_"))
	assert.Len(t, a, 3+16)

	assert.True(t, strings.HasPrefix(IndexName(a, "email"), "dx_"))
}

func TestValidField(t *testing.T) {
	assert.True(t, ValidField("email"))
	assert.True(t, ValidField("_syncErrors"))
	assert.False(t, ValidField("a'b"))
	assert.False(t, ValidField("1a"))
	assert.False(t, ValidField(""))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "readonly", ReadOnly.String())
	assert.Equal(t, "readwrite", ReadWrite.String())
}

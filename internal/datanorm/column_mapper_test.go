package datanorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapColumns(t *testing.T) {
	m := MapColumns([]string{"Name", " EMAIL ", "Verified", "Company", "source", "addedAt", "active"})
	require.NotNil(t, m)

	assert.Equal(t, 1, m.EmailIdx)
	assert.Equal(t, 2, m.VerifiedIdx)
	assert.Equal(t, map[int]string{0: "name", 3: "company"}, m.TagKeys)
	assert.Equal(t, FieldSource, m.FieldMap[4])
	assert.Equal(t, FieldAddedAt, m.FieldMap[5])
	assert.Equal(t, FieldActive, m.FieldMap[6])
}

func TestMapColumns_NoEmail(t *testing.T) {
	assert.Nil(t, MapColumns([]string{"name", "company"}))
	assert.Nil(t, MapColumns(nil))
}

func TestMapColumns_ByteOrderMark(t *testing.T) {
	m := MapColumns([]string{"\ufeffEmail", "team"})
	require.NotNil(t, m)
	assert.Equal(t, 0, m.EmailIdx)
}

func TestNormalizeRow(t *testing.T) {
	m := MapColumns([]string{"email", "verified", "Company", "notes"})
	require.NotNil(t, m)

	row := NormalizeRow([]string{" a@b.com ", "yes", "Acme", ""}, m)
	assert.Equal(t, "a@b.com", row.Email)
	assert.True(t, row.Verified)
	assert.True(t, row.HasVerified)
	assert.Equal(t, map[string]string{"company": "Acme"}, row.Tags)

	short := NormalizeRow([]string{"c@d.com"}, m)
	assert.False(t, short.HasVerified)
	assert.Empty(t, short.Tags)
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", "Y", "t"} {
		assert.True(t, ParseBool(v), v)
	}
	for _, v := range []string{"false", "0", "", "no", "maybe"} {
		assert.False(t, ParseBool(v), v)
	}
}

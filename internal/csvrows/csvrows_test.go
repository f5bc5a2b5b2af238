package csvrows

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imerrors "github.com/imagemill/imagemill/internal/errors"
)

func TestParseProducesOneObjectPerRow(t *testing.T) {
	doc := "input_reference,quality\ninputs/a.jpg,40\ninputs/b.jpg,80\n"

	rows, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var first map[string]string
	require.NoError(t, json.Unmarshal(rows[0], &first))
	assert.Equal(t, "inputs/a.jpg", first["input_reference"])
	assert.Equal(t, "40", first["quality"])
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, imerrors.IsValidation(err))
}

func TestParseHeaderOnly(t *testing.T) {
	_, err := Parse(strings.NewReader("input_reference,quality\n"))
	require.Error(t, err)
	assert.True(t, imerrors.IsValidation(err))
}

func TestParseEmptyHeaderColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("input_reference,,quality\na,b,c\n"))
	require.Error(t, err)
	assert.True(t, imerrors.IsValidation(err))
}

func TestParseRaggedRow(t *testing.T) {
	_, err := Parse(strings.NewReader("a,b\n1,2,3\n"))
	require.Error(t, err)
	assert.True(t, imerrors.IsValidation(err))
}

func TestParseQuotedFields(t *testing.T) {
	doc := "input_reference,note\n\"inputs/with,comma.jpg\",\"hello\"\n"

	rows, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var row map[string]string
	require.NoError(t, json.Unmarshal(rows[0], &row))
	assert.Equal(t, "inputs/with,comma.jpg", row["input_reference"])
}

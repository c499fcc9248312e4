package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/errors"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := New(context.Background(), nil, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestDecode(t *testing.T) {
	rec, err := decode([]byte(`{"key":"studio","version":3,"graph":{"elements":[{"id":"a","type":"constant"}]}}`), 42)
	require.NoError(t, err)
	assert.Equal(t, "studio", rec.Key)
	assert.Equal(t, int64(3), rec.Version)
	assert.Equal(t, uint64(42), rec.Revision())
	require.Len(t, rec.Graph.Elements, 1)

	rec, err = decode([]byte(`{"key":"empty","version":1}`), 1)
	require.NoError(t, err)
	assert.NotNil(t, rec.Graph)

	_, err = decode([]byte(`{`), 1)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestCheckGraph(t *testing.T) {
	assert.Error(t, checkGraph("Create", nil))

	err := checkGraph("Create", &description.Graph{
		Elements: []description.Element{{ID: "a", Type: "constant"}, {ID: "a", Type: "constant"}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.NoError(t, checkGraph("Create", &description.Graph{
		Elements: []description.Element{{ID: "a", Type: "constant"}},
	}))
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStore_PutObject(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "ns/page.md", "text/markdown", []byte("# hi"))
	require.NoError(t, err)
	require.Equal(t, "memory://ns/page.md", uri)

	data, ok := s.GetObject("ns/page.md")
	require.True(t, ok)
	require.Equal(t, []byte("# hi"), data)
	require.Equal(t, 1, s.Len())
}

func TestBlobStore_PutObject_EmptyKey(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	_, err := s.PutObject(context.Background(), "", "text/markdown", []byte("x"))
	require.Error(t, err)
}

func TestBlobStore_PutObject_Overwrite(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	_, err := s.PutObject(context.Background(), "k", "", []byte("first"))
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), "k", "", []byte("second"))
	require.NoError(t, err)

	data, ok := s.GetObject("k")
	require.True(t, ok)
	require.Equal(t, []byte("second"), data)
}

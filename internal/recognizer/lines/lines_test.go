package lines

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/macaria/internal/recognizer"
)

func collect(t *testing.T, r *Recognizer) ([]string, error) {
	t.Helper()
	var got []string
	err := r.Listen(context.Background(), func(s string) { got = append(got, s) })
	return got, err
}

func TestListenSessionsAndExhaustion(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/script.txt", []byte("Macaria\n  avanza  \n\n# comentario\nhaz lo contrario de ir hacia atrás\n"), 0o644))
	r := New(fs, "/script.txt", nil)

	got, err := collect(t, r)
	require.NoError(t, err)
	require.Equal(t, []string{"Macaria", "avanza"}, got)

	got, err = collect(t, r)
	require.ErrorIs(t, err, recognizer.ErrExhausted)
	require.Equal(t, []string{"haz lo contrario de ir hacia atrás"}, got)

	_, err = collect(t, r)
	require.ErrorIs(t, err, recognizer.ErrExhausted)
}

func TestListenStdin(t *testing.T) {
	r := New(afero.NewMemMapFs(), "-", strings.NewReader("retrocede por favor\n"))

	got, err := collect(t, r)
	require.ErrorIs(t, err, recognizer.ErrExhausted)
	require.Equal(t, []string{"retrocede por favor"}, got)
}

func TestMissingFileIsUnsupported(t *testing.T) {
	r := New(afero.NewMemMapFs(), "/nope.txt", nil)

	_, err := collect(t, r)
	require.ErrorIs(t, err, recognizer.ErrUnsupported)
	require.False(t, errors.Is(err, recognizer.ErrExhausted))
}

type blockingReader struct{ release chan struct{} }

func (b blockingReader) Read([]byte) (int, error) {
	<-b.release
	return 0, errors.New("closed")
}

func TestListenHonorsContext(t *testing.T) {
	br := blockingReader{release: make(chan struct{})}
	defer close(br.release)
	r := New(afero.NewMemMapFs(), "", br)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Listen(ctx, func(string) {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

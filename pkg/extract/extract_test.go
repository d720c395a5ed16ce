package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

func TestExtractPlainText(t *testing.T) {
	e := New(Config{})

	res, err := e.Extract(context.Background(), []byte("Solarpflicht für alle Neubauten ab 2027.\n"), "antrag.txt")
	require.NoError(t, err)
	assert.Equal(t, "Solarpflicht für alle Neubauten ab 2027.", res.Text)
	assert.Equal(t, MethodDirect, res.Stats.Method)
	assert.Greater(t, res.Stats.Duration, time.Duration(0))
}

func TestExtractMarkdownExtension(t *testing.T) {
	e := New(Config{})

	res, err := e.Extract(context.Background(), []byte("# Radverkehr\n\nMehr Radwege."), "konzept.md")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "# Radverkehr")
}

func TestExtractLatin1Fallback(t *testing.T) {
	e := New(Config{})

	// "Förderung" encoded as latin-1.
	data := []byte{'F', 0xF6, 'r', 'd', 'e', 'r', 'u', 'n', 'g', ' ', 'v', 'o', 'n', ' ', 'W', 0xE4, 'r', 'm', 'e', 'p', 'u', 'm', 'p', 'e', 'n'}
	res, err := e.Extract(context.Background(), data, "alt.txt")
	require.NoError(t, err)
	assert.Equal(t, "Förderung von Wärmepumpen", res.Text)
}

func TestExtractRejectsEmptyFile(t *testing.T) {
	e := New(Config{})

	_, err := e.Extract(context.Background(), nil, "leer.txt")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestExtractRejectsUnsupportedType(t *testing.T) {
	e := New(Config{})

	_, err := e.Extract(context.Background(), []byte("GIF89a"), "bild.gif")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	assert.Contains(t, err.Error(), ".gif")
}

func TestExtractWhitespaceOnlyIsPermanent(t *testing.T) {
	e := New(Config{})

	_, err := e.Extract(context.Background(), []byte("   \n\t  \n"), "leerraum.txt")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Permanent))
}

func TestDecodeText(t *testing.T) {
	t.Run("valid utf8 passes through", func(t *testing.T) {
		assert.Equal(t, "Grüne Wärme", decodeText([]byte("Grüne Wärme")))
	})

	t.Run("invalid utf8 reinterpreted as latin-1", func(t *testing.T) {
		assert.Equal(t, "Bündnis", decodeText([]byte{'B', 0xFC, 'n', 'd', 'n', 'i', 's'}))
	})
}

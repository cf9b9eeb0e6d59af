package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyButtons(t *testing.T) {
	markup := ReplyButtons([]string{"💹 Realizar Cambio", "📜 Mi Historial"}, nil, []string{"⬅️ Cancelar"})

	require.Len(t, markup.ReplyKeyboard, 2)
	assert.True(t, markup.ResizeKeyboard)
	assert.Equal(t, "📜 Mi Historial", markup.ReplyKeyboard[0][1].Text)
	assert.Equal(t, "⬅️ Cancelar", markup.ReplyKeyboard[1][0].Text)
}

func TestOneTimeAndRemove(t *testing.T) {
	assert.True(t, OneTime([]string{"👍 Sí, confirmar"}).OneTimeKeyboard)
	assert.True(t, RemoveKeyboard().RemoveKeyboard)
}

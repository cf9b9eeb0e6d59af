package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/exchangebot/core/telegram"
)

type fakeContext struct {
	tele.Context
	msg    *tele.Message
	values map[string]any
}

func textUpdate(text string) *fakeContext {
	return &fakeContext{
		msg: &tele.Message{
			Text:   text,
			Sender: &tele.User{ID: 7},
			Chat:   &tele.Chat{ID: 7, Type: tele.ChatPrivate},
		},
		values: map[string]any{},
	}
}

func (c *fakeContext) Update() tele.Update    { return tele.Update{ID: 1, Message: c.msg} }
func (c *fakeContext) Message() *tele.Message { return c.msg }
func (c *fakeContext) Sender() *tele.User     { return c.msg.Sender }
func (c *fakeContext) Chat() *tele.Chat       { return c.msg.Chat }
func (c *fakeContext) Text() string           { return c.msg.Text }
func (c *fakeContext) Get(k string) any       { return c.values[k] }
func (c *fakeContext) Set(k string, v any)    { c.values[k] = v }

type fakeConversation struct {
	active     bool
	wantsMedia bool
	continued  int
	askedMedia []bool
}

func (f *fakeConversation) InProgress(_ tele.Context, media bool) bool {
	f.askedMedia = append(f.askedMedia, media)
	if media {
		return f.wantsMedia
	}
	return f.active
}

func (f *fakeConversation) Continue(tele.Context) error {
	f.continued++
	return nil
}

type recorder struct{ calls []string }

func (r *recorder) handler(name string) tele.HandlerFunc {
	return func(tele.Context) error {
		r.calls = append(r.calls, name)
		return nil
	}
}

func routesByEndpoint(routes []tg.Route) map[any]tele.HandlerFunc {
	out := make(map[any]tele.HandlerFunc, len(routes))
	for _, r := range routes {
		out[r.Endpoint] = r.Handler
	}
	return out
}

func TestMessageRoutesPriority(t *testing.T) {
	rec := &recorder{}
	reg := tg.NewRegistry()
	reg.RegisterCommand("/cancel", tg.Command{
		Handler:     rec.handler("cancel"),
		Description: "Cancelar",
		Aliases:     []string{"⬅️ Cancelar"},
	})
	reg.SetTextFallback(rec.handler("fallback"))
	conv := &fakeConversation{active: true}

	routes := routesByEndpoint(MessageRoutes(conv, reg, MessageOptions{}))
	text := routes[tele.OnText]
	require.NotNil(t, text)

	require.NoError(t, text(textUpdate("⬅️ Cancelar")))
	assert.Equal(t, []string{"cancel"}, rec.calls)
	assert.Zero(t, conv.continued)

	require.NoError(t, text(textUpdate("10")))
	assert.Equal(t, 1, conv.continued)

	conv.active = false
	require.NoError(t, text(textUpdate("hola")))
	assert.Equal(t, []string{"cancel", "fallback"}, rec.calls)
}

func TestMessageRoutesMedia(t *testing.T) {
	rec := &recorder{}
	conv := &fakeConversation{active: true}
	routes := routesByEndpoint(MessageRoutes(conv, nil, MessageOptions{UnknownMedia: rec.handler("media")}))

	photo := textUpdate("")
	photo.msg.Photo = &tele.Photo{File: tele.File{FileID: "p1"}}
	require.NoError(t, routes[tele.OnPhoto](photo))
	assert.Equal(t, []string{"media"}, rec.calls, "flow not waiting for an image")

	conv.wantsMedia = true
	require.NoError(t, routes[tele.OnPhoto](photo))
	assert.Equal(t, 1, conv.continued)

	pdf := textUpdate("")
	pdf.msg.Document = &tele.Document{File: tele.File{FileID: "d1"}, MIME: "application/pdf"}
	require.NoError(t, routes[tele.OnDocument](pdf))
	assert.Equal(t, []string{"media", "media"}, rec.calls)

	png := textUpdate("")
	png.msg.Document = &tele.Document{File: tele.File{FileID: "d2"}, MIME: "image/png"}
	require.NoError(t, routes[tele.OnDocument](png))
	assert.Equal(t, 2, conv.continued)
}

func TestCommandRoutesAdminOnly(t *testing.T) {
	rec := &recorder{}
	reg := tg.NewRegistry()
	reg.RegisterCommand("/broadcast", tg.Command{Handler: rec.handler("broadcast"), Description: "Difusión", AdminOnly: true})
	reg.RegisterCommand("/help", tg.Command{Handler: rec.handler("help"), Description: "Ayuda"})

	routes := routesByEndpoint(CommandRoutes(reg, CommandRouteOptions{AdminID: 7, OnAdminReject: rec.handler("rejected")}))
	require.Len(t, routes, 2)

	require.NoError(t, routes["/broadcast"](textUpdate("/broadcast hola")))
	require.NoError(t, routes["/help"](textUpdate("/help")))
	assert.Equal(t, []string{"broadcast", "help"}, rec.calls)
}

func TestNormalizeHandlerName(t *testing.T) {
	assert.Equal(t, "historial", normalizeHandlerName("/historial"))
	assert.Equal(t, "unknown", normalizeHandlerName(" "))
	assert.Equal(t, "unknown_text", normalizeHandlerName("Unknown Text"))
}

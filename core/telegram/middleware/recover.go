package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/exchangebot/core/logger"
	tghelpers "github.com/m3rciful/exchangebot/core/telegram/helpers"
)

// Recover turns a handler panic into an error log. When reply is set it answers the user,
// typically with the generic error text, and its result becomes the handler result.
func Recover(reply func(tele.Context) error) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger.Error(tghelpers.BuildContext(c), "tg", "tg.panic",
					slog.String("panic", logger.SanitizeLimit(fmt.Sprint(r), 512)),
					slog.String("stack", string(debug.Stack())),
				)
				err = nil
				if reply != nil {
					err = reply(c)
				}
			}()
			return next(c)
		}
	}
}

// RecoverMiddleware recovers without replying.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return Recover(nil)(next)
}

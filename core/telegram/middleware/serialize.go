package middleware

import tele "gopkg.in/telebot.v4"

// UserLocker hands out a per-user critical section. The returned func releases it.
type UserLocker interface {
	Lock(userID int64) func()
}

// SerializeMiddleware runs updates of the same sender one at a time so that a conversation
// step is fully stored before the next message of that user is read.
func SerializeMiddleware(locker UserLocker) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		if locker == nil {
			return next
		}
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil {
				return next(c)
			}
			unlock := locker.Lock(user.ID)
			defer unlock()
			return next(c)
		}
	}
}

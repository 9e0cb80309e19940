package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "remindbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Requests slower than this are logged at info even when they succeed.
const slowRequest = 750 * time.Millisecond

// Chain applies m around h; m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := range m {
		h = m[len(m)-1-i](h)
	}
	return h
}

// MWTimeout bounds each request by d. d <= 0 leaves ctx untouched.
func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				loggerFor(log, req).Error("handler panic",
					logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("handler panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := loggerFor(log, req).With(
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", took),
			)
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				l.Warn("request timed out", logx.Err(err))
			case err != nil:
				l.Warn("request failed", logx.Err(err))
			case took >= slowRequest:
				l.Info("slow request")
			default:
				l.Debug("request ok")
			}
			return err
		}
	}
}

func loggerFor(fallback logx.Logger, req *Request) logx.Logger {
	if req == nil || req.Logger.IsZero() {
		return fallback
	}
	return req.Logger
}

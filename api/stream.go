package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"tasksync/domain"
)

const keepAliveInterval = 25 * time.Second

type failureFrame struct {
	Op     string `json:"op"`
	TaskID string `json:"taskId,omitempty"`
	Error  string `json:"error"`
	Kind   string `json:"kind"`
}

// streamTasks sends the owner's snapshot on connect and after every change,
// and an "event: failure" frame for each failed mutation.
func streamTasks(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerFromRequest(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		sess, err := hub.Acquire(ctx, owner)
		if err != nil {
			return writeError(c, err)
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		sub := sess.broker.subscribe()
		defer func() {
			sess.broker.unsubscribe(sub)
			sess.touch(hub.opts.Now())
		}()
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		send := true
		for {
			if send {
				if sess.rec.Owner() == "" {
					_ = writeFrame(c, "end", []byte("{}"))
					flusher.Flush()
					return nil
				}
				data, err := sonic.Marshal(sess.rec.Snapshot())
				if err != nil {
					c.Logger().Error(err)
					return err
				}
				if err := writeFrame(c, "", data); err != nil {
					c.Logger().Error(err)
					return err
				}
				flusher.Flush()
			}
			send = false

			select {
			case <-ctx.Done():
				return nil
			case <-sub.wake:
				send = true
			case f := <-sub.failures:
				data, err := sonic.Marshal(failureFrame{
					Op:     f.Op,
					TaskID: f.TaskID,
					Error:  f.Err.Error(),
					Kind:   domain.Kind(f.Err),
				})
				if err != nil {
					c.Logger().Error(err)
					return err
				}
				if err := writeFrame(c, "failure", data); err != nil {
					return err
				}
				flusher.Flush()
			case <-keepAlive.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}

func writeFrame(c echo.Context, event string, data []byte) error {
	w := c.Response()
	if event != "" {
		if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}

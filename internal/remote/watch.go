package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/medprofile/internal/events"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Watch streams the user's record events to fn until ctx is done or the
// server closes the stream. A normal close returns nil.
func (c *Client) Watch(ctx context.Context, fn func(events.Event)) error {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/ws/assessments"

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: c.header(),
	})
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "watch ended") }()
	slog.Debug("Watching assessment events", "url", u.String())

	for {
		var ev events.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		fn(ev)
	}
}

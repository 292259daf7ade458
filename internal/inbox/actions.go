// ABOUTME: User actions of the inbox engine: send message, connection requests, sessions
// ABOUTME: Each action validates on the loop, calls the API off-loop, then applies the result

package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/reconcile"
	"github.com/2389/coven-inbox/internal/session"
)

// errIdentityChanged marks a result that arrived after a logout or switch.
var errIdentityChanged = errors.New("identity changed")

// SendMessage shows content immediately as a provisional message, then
// replaces it in place with the server's message. On failure the
// provisional message is removed, the sidebar preview is restored and the
// returned error matches chat.ErrSendFailed.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	var (
		a     api.Client
		epoch uint64
		p     *reconcile.Pending
		err   error
	)
	if doErr := c.do(ctx, func() {
		if c.api == nil {
			err = chat.ErrNoIdentity
			return
		}
		a, epoch = c.api, c.epoch
		p, err = c.reconciler.Begin(conversationID, content)
		if err == nil {
			c.notify()
		}
	}); doErr != nil {
		return chat.Message{}, doErr
	}
	if err != nil {
		return chat.Message{}, err
	}

	confirmed, sendErr := a.SendMessage(ctx, conversationID, content)
	if sendErr != nil {
		sendErr = api.FromStatus(sendErr)
	}

	var result error
	if doErr := c.do(context.WithoutCancel(ctx), func() {
		if c.epoch != epoch {
			result = fmt.Errorf("%w: %w", chat.ErrSendFailed, errIdentityChanged)
			return
		}
		if sendErr != nil {
			result = c.reconciler.Fail(p, sendErr)
		} else {
			c.reconciler.Confirm(p, confirmed)
		}
		c.notify()
	}); doErr != nil {
		return chat.Message{}, doErr
	}
	if result != nil {
		c.logger.Warn("send failed",
			"conversation_id", conversationID,
			"temp_id", p.TempID(),
			"error", result)
		return chat.Message{}, result
	}
	return confirmed, nil
}

// SendRequest asks receiverID to connect. Local state is checked first so
// an obviously invalid request never reaches the server; the server still
// has the final word.
func (c *Client) SendRequest(ctx context.Context, receiverID, message string) (chat.ConnectionRequest, error) {
	var (
		a     api.Client
		epoch uint64
		err   error
	)
	if doErr := c.do(ctx, func() {
		if c.api == nil {
			err = chat.ErrNoIdentity
			return
		}
		a, epoch = c.api, c.epoch
		err = c.requests.CheckSend(receiverID)
	}); doErr != nil {
		return chat.ConnectionRequest{}, doErr
	}
	if err != nil {
		return chat.ConnectionRequest{}, err
	}

	req, err := a.SendRequest(ctx, receiverID, message)
	if err != nil {
		err = api.FromStatus(err)
		if errors.Is(err, chat.ErrAlreadyConnected) || errors.Is(err, chat.ErrRequestPending) {
			// Our view is behind the server's.
			_ = c.post(func() {
				if c.epoch == epoch {
					c.resync()
					c.syncRequestsAsync()
				}
			})
		}
		return chat.ConnectionRequest{}, err
	}

	if doErr := c.do(context.WithoutCancel(ctx), func() {
		if c.epoch != epoch {
			return
		}
		c.requests.RecordSent(req)
		c.notify()
	}); doErr != nil {
		return chat.ConnectionRequest{}, doErr
	}
	c.logger.Info("connection request sent", "request_id", req.ID, "receiver_id", receiverID)
	return req, nil
}

// ResolveRequest accepts or rejects an incoming request. After an accept
// the conversation list is refreshed before returning so the new
// conversation is visible.
func (c *Client) ResolveRequest(ctx context.Context, requestID string, decision chat.RequestStatus) (chat.ConnectionRequest, error) {
	var (
		a     api.Client
		epoch uint64
		err   error
	)
	if doErr := c.do(ctx, func() {
		if c.api == nil {
			err = chat.ErrNoIdentity
			return
		}
		a, epoch = c.api, c.epoch
		err = c.requests.CheckResolve(requestID, decision)
	}); doErr != nil {
		return chat.ConnectionRequest{}, doErr
	}
	if err != nil {
		return chat.ConnectionRequest{}, err
	}

	req, err := a.ResolveRequest(ctx, requestID, decision)
	if err != nil {
		err = api.FromStatus(err)
		if errors.Is(err, chat.ErrRequestAlreadyResolved) {
			_ = c.post(func() {
				if c.epoch == epoch {
					c.syncRequestsAsync()
				}
			})
		}
		return chat.ConnectionRequest{}, err
	}

	var applyErr error
	if doErr := c.do(context.WithoutCancel(ctx), func() {
		if c.epoch != epoch {
			applyErr = errIdentityChanged
			return
		}
		applyErr = c.requests.Apply(req)
		c.notify()
	}); doErr != nil {
		return chat.ConnectionRequest{}, doErr
	}
	if applyErr != nil {
		return req, applyErr
	}
	c.logger.Info("connection request resolved", "request_id", req.ID, "status", req.Status)

	if req.Status == chat.StatusAccepted {
		if err := c.syncConversations(ctx, a, epoch); err != nil {
			c.logger.Warn("conversation refresh after accept failed", "error", err)
		}
	}
	return req, nil
}

// OpenSession opens conversationID, loads its history and marks it read.
// Opening another conversation before the history arrives makes this
// load a no-op.
func (c *Client) OpenSession(ctx context.Context, conversationID string) error {
	var (
		a      api.Client
		epoch  uint64
		ticket session.Ticket
		err    error
	)
	if doErr := c.do(ctx, func() {
		if c.api == nil {
			err = chat.ErrNoIdentity
			return
		}
		if _, ok := c.store.Get(conversationID); !ok {
			err = fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
			return
		}
		a, epoch = c.api, c.epoch
		ticket = c.session.Open(conversationID)
		c.store.SetOpen(conversationID)
		c.notify()
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}

	history, listErr := a.ListMessages(ctx, conversationID)

	if doErr := c.do(context.WithoutCancel(ctx), func() {
		if c.epoch != epoch {
			return
		}
		if listErr != nil {
			if cur, open := c.session.Current(); open && cur == ticket {
				err = api.FromStatus(listErr)
			}
			return
		}
		if c.session.Load(ticket, history) != nil {
			return
		}
		c.store.MarkRead(conversationID)
		c.notify()
	}); doErr != nil {
		return doErr
	}
	return err
}

// CloseSession closes the open conversation, if any.
func (c *Client) CloseSession() {
	_ = c.do(context.Background(), func() {
		c.session.Close()
		c.store.ClearOpen()
		c.notify()
	})
}

package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/aegis-sign/wcsigner/internal/gateway/dispatch"
	"github.com/aegis-sign/wcsigner/internal/namespace"
	"github.com/aegis-sign/wcsigner/internal/session"
	"github.com/aegis-sign/wcsigner/internal/transport"
	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

const relayProtocol = "irn"

// userRejectedMessage 是拒绝提议时回给远端的错误文本。
const userRejectedMessage = "USER_REJECTED"

type relayOptions struct {
	Protocol string `json:"protocol"`
}

type responder struct {
	Metadata namespace.Metadata `json:"metadata"`
}

// Approval 是批准提议后回给远端的结果体。
type Approval struct {
	Relay      relayOptions                 `json:"relay"`
	Namespaces namespace.ApprovedNamespaces `json:"namespaces"`
	Expiry     int64                        `json:"expiry"`
	Responder  responder                    `json:"responder"`
}

func (c *Client) handleProposal(ctx context.Context, ev transport.Event) {
	var proposal namespace.Proposal
	if err := json.Unmarshal(ev.Message.Params, &proposal); err != nil {
		c.metrics.incProposal(outcomeInvalid)
		c.logger.Warn("malformed session proposal", slog.String("topic", ev.Topic), slog.Any("err", err))
		c.reply(ctx, ev.Topic, transport.NewError(ev.Message.ID, apierrors.WireCode(apierrors.CodeInvalidParams), dispatch.ErrInvalidParams.Error()))
		return
	}
	if proposal.ID == 0 {
		proposal.ID = ev.Message.ID
	}
	meta := proposal.Proposer.Metadata
	attrs := []any{slog.String("topic", ev.Topic), slog.Int64("proposal_id", proposal.ID), slog.String("proposer", meta.Name)}
	if len(meta.Icons) > 0 {
		attrs = append(attrs, slog.String("icon", meta.Icons[0]))
	}
	c.logger.Info("session proposal received", attrs...)

	if _, err := c.registry.RecordPending(ev.Topic, proposal.ID, meta); err != nil {
		c.metrics.incProposal(outcomeDuplicate)
		c.logger.Error("session proposal refused", slog.String("topic", ev.Topic), slog.Any("err", err))
		c.events.status(StateFailed, ev.Topic, err.Error())
		c.replyError(ctx, ev.Topic, ev.Message.ID, err)
		return
	}

	approved, err := namespace.Approve(proposal, c.cfg.Capabilities, c.accounts)
	if err != nil {
		c.reject(ctx, ev, err)
		return
	}
	sess, err := c.registry.Activate(ev.Topic, approved)
	if err != nil {
		c.reject(ctx, ev, err)
		return
	}

	msg, err := transport.NewResult(ev.Message.ID, Approval{
		Relay:      relayOptions{Protocol: relayProtocol},
		Namespaces: sess.Approved,
		Expiry:     sess.ExpiresAt.Unix(),
		Responder:  responder{Metadata: c.cfg.Metadata},
	})
	if err != nil {
		c.logger.Error("encode approval failed", slog.String("topic", ev.Topic), slog.Any("err", err))
		return
	}
	c.metrics.incProposal(outcomeApproved)
	c.logger.Info("session approved", slog.String("topic", ev.Topic), slog.Int("namespaces", len(sess.Approved)), slog.Time("expires_at", sess.ExpiresAt))
	c.reply(ctx, ev.Topic, msg)
	c.events.status(StateActive, ev.Topic, "")
}

func (c *Client) reject(ctx context.Context, ev transport.Event, cause error) {
	c.metrics.incProposal(outcomeRejected)
	if _, err := c.registry.Reject(ev.Topic, cause.Error()); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
		c.logger.Warn("mark session rejected failed", slog.String("topic", ev.Topic), slog.Any("err", err))
	}
	c.logger.Warn("session proposal rejected", slog.String("topic", ev.Topic), slog.Any("err", cause))
	c.events.status(StateFailed, ev.Topic, cause.Error())
	c.reply(ctx, ev.Topic, transport.NewError(ev.Message.ID, apierrors.WireCode(apierrors.CodeUserRejected), userRejectedMessage))
}

func (c *Client) replyError(ctx context.Context, topic string, id int64, cause error) {
	resp := dispatch.ErrorResponse(topic, id, cause)
	c.reply(ctx, topic, resp.Message())
}

func (c *Client) reply(ctx context.Context, topic string, msg transport.Message) {
	// 发布失败已由 dispatcher 记录，不重试。
	_ = c.dispatcher.Reply(ctx, topic, msg)
}

// Package dispatch decides whether a post may be sent to an outbound channel and performs the send.
//
// WhatsApp addresses the recipient by phone number, so it requires a verified phone;
// social channels carry no identity binding. The decision is a table lookup keyed by
// channel, so adding a channel is a table edit.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/advocacyflow/server/internal/model"
)

// NextStepVerify tells the caller how to clear a gated dispatch
const NextStepVerify = "collect phone, then OTP challenge, then confirm, then retry dispatch"

const (
	brandName   = "SocialRipple"
	defaultLink = "https://socialripple.com"
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrDispatchFailed = errors.New("dispatch failed")
)

// DispatchError carries the failed channel and the external failure reason
type DispatchError struct {
	Channel model.Channel
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.Channel, e.Err)
}

// Unwrap exposes both ErrDispatchFailed and the sender's error to errors.Is
func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatchFailed, e.Err}
}

// Message is the payload handed to a channel sender
type Message struct {
	UserID      string        `json:"user_id"`
	PostID      string        `json:"post_id"`
	Channel     model.Channel `json:"channel"`
	Text        string        `json:"text"`
	PhoneNumber string        `json:"phone_number,omitempty"`
}

// Sender performs the external send for one channel. Sends are not assumed idempotent.
// The context passed to Send is not cancelled with the request, so implementations
// bound their own send time.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PhoneLookup returns a user's verified phone
type PhoneLookup interface {
	GetVerifiedPhone(ctx context.Context, userID string) (string, bool)
}

// Recorder receives a share event after a successful send
type Recorder interface {
	Record(userID, postID string, action model.Action)
}

type policy struct {
	requiresVerification bool
	compose              func(model.Post) string
}

var policies = map[model.Channel]policy{
	model.ChannelWhatsApp: {requiresVerification: true, compose: composeDirect},
	model.ChannelTwitter:  {compose: composeSocial},
	model.ChannelLinkedIn: {compose: composeSocial},
}

// RequiresVerification reports whether ch needs a verified phone before dispatch
func RequiresVerification(ch model.Channel) (bool, error) {
	p, ok := policies[ch]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	return p.requiresVerification, nil
}

// ParseChannel validates a channel name
func ParseChannel(s string) (model.Channel, error) {
	ch := model.Channel(s)
	if _, ok := policies[ch]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return ch, nil
}

// Dispatcher gates and performs outbound sends
type Dispatcher struct {
	phones   PhoneLookup
	senders  map[model.Channel]Sender
	recorder Recorder
	logger   *zap.Logger

	// inflight collapses concurrent dispatches of the same (user, channel, post) into one send.
	inflight singleflight.Group
}

// NewDispatcher creates a dispatcher with one sender per channel
func NewDispatcher(phones PhoneLookup, senders map[model.Channel]Sender, recorder Recorder, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		phones:   phones,
		senders:  senders,
		recorder: recorder,
		logger:   logger,
	}
}

// Dispatch sends post to ch on behalf of userID.
//
// A gated result is not an error: the returned action has status gated and NextStep set.
// External failures return an action with status failed and a *DispatchError; they are not
// retried. Calling Dispatch again is safe for the workflow, but the external send may repeat.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, post model.Post, ch model.Channel) (model.DistributionAction, error) {
	action := model.DistributionAction{UserID: userID, PostID: post.ID, Channel: ch}

	p, ok := policies[ch]
	if !ok {
		return action, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	sender, ok := d.senders[ch]
	if !ok {
		return action, fmt.Errorf("%w: no sender configured for %q", ErrUnknownChannel, ch)
	}

	msg := Message{UserID: userID, PostID: post.ID, Channel: ch, Text: p.compose(post)}
	if p.requiresVerification {
		phone, verified := d.phones.GetVerifiedPhone(ctx, userID)
		if !verified {
			action.Status = model.DistributionGated
			action.NextStep = NextStepVerify
			d.logger.Debug("dispatch gated", zap.String("user_id", userID), zap.String("channel", string(ch)))
			return action, nil
		}
		msg.PhoneNumber = phone
	}

	// One send serves every caller on the key; each caller stops waiting on its own ctx.
	sendCtx := context.WithoutCancel(ctx)
	key := userID + "|" + string(ch) + "|" + post.ID
	results := d.inflight.DoChan(key, func() (interface{}, error) {
		if err := sender.Send(sendCtx, msg); err != nil {
			return nil, err
		}
		d.recorder.Record(userID, post.ID, model.ShareAction(ch))
		return nil, nil
	})

	var err error
	var shared bool
	select {
	case res := <-results:
		err, shared = res.Err, res.Shared
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		action.Status = model.DistributionFailed
		action.Reason = err.Error()
		d.logger.Warn("dispatch failed",
			zap.String("user_id", userID),
			zap.String("post_id", post.ID),
			zap.String("channel", string(ch)),
			zap.Error(err))
		return action, &DispatchError{Channel: ch, Err: err}
	}

	action.Status = model.DistributionSent
	d.logger.Info("dispatch sent",
		zap.String("user_id", userID),
		zap.String("post_id", post.ID),
		zap.String("channel", string(ch)),
		zap.Bool("shared", shared))
	return action, nil
}

func composeDirect(post model.Post) string {
	return fmt.Sprintf("Check this out from %s:\n%s\n%s", brandName, post.Title, linkOf(post))
}

func composeSocial(post model.Post) string {
	return fmt.Sprintf("%s Read more here: %s", post.Content, linkOf(post))
}

func linkOf(post model.Post) string {
	if post.LinkURL != "" {
		return post.LinkURL
	}
	return defaultLink
}

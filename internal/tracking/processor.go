package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/repogrowth/internal/datanorm"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/service/digest"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
	"github.com/ignite/repogrowth/internal/service/snowball"
)

// BounceHandler closes the loop on digest bounces.
type BounceHandler interface {
	HandleBounce(ctx context.Context, jobID, address string) error
}

// Growth is the part of the engine events are applied to.
type Growth interface {
	Forward(ctx context.Context, repositoryID, referrer, referred string, at time.Time) (snowball.Result, error)
	Unsubscribe(ctx context.Context, repositoryID, address string) error
}

// Processor applies decoded messages.
type Processor struct {
	bounces BounceHandler
	growth  Growth
}

// NewProcessor creates a processor. bounces may be nil when digests are not
// configured; SES notifications are then dropped.
func NewProcessor(bounces BounceHandler, growth Growth) *Processor {
	return &Processor{bounces: bounces, growth: growth}
}

// Process handles one raw queue body. A nil error or a permanent error
// (see Permanent) both mean the message should be deleted.
func (p *Processor) Process(ctx context.Context, body string) error {
	msg, err := decode(body)
	if err != nil {
		return err
	}
	if msg.event != nil {
		return p.processEvent(ctx, msg.event)
	}
	return p.processSES(ctx, msg.ses)
}

func (p *Processor) processEvent(ctx context.Context, evt *Event) error {
	if evt.RepositoryID == "" {
		return fmt.Errorf("%w: missing repository_id", ErrMalformed)
	}
	switch evt.EventType {
	case EventForward:
		res, err := p.growth.Forward(ctx, evt.RepositoryID, evt.Referrer, evt.Referred, evt.Timestamp)
		if err != nil {
			return err
		}
		logger.Debug("forward processed", "repository_id", evt.RepositoryID, "referred", evt.Referred,
			"outcome", string(res.Outcome), "count", res.Count)
		return nil
	case EventUnsubscribe:
		if err := p.growth.Unsubscribe(ctx, evt.RepositoryID, evt.Email); err != nil {
			return err
		}
		logger.Info("unsubscribe processed", "repository_id", evt.RepositoryID, "email", evt.Email)
		return nil
	default:
		return fmt.Errorf("%w: event type %q", ErrMalformed, evt.EventType)
	}
}

func (p *Processor) processSES(ctx context.Context, n *sesNotification) error {
	switch n.kind() {
	case "Bounce":
		if n.Bounce == nil {
			return fmt.Errorf("%w: bounce without details", ErrMalformed)
		}
		if !strings.EqualFold(n.Bounce.BounceType, "Permanent") {
			logger.Debug("transient bounce ignored", "message_id", n.Mail.MessageID, "bounce_type", n.Bounce.BounceType)
			return nil
		}
		jobID := n.tag("digest_job_id")
		if jobID == "" || p.bounces == nil {
			logger.Warn("bounce for untracked mail", "message_id", n.Mail.MessageID)
			return nil
		}
		var errs []error
		for _, r := range n.Bounce.BouncedRecipients {
			if err := p.bounces.HandleBounce(ctx, jobID, r.EmailAddress); err != nil && !Permanent(err) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case "Complaint":
		repoID := n.tag("repository_id")
		if repoID == "" || n.Complaint == nil {
			logger.Warn("complaint for untracked mail", "message_id", n.Mail.MessageID)
			return nil
		}
		var errs []error
		for _, r := range n.Complaint.ComplainedRecipients {
			if err := p.growth.Unsubscribe(ctx, repoID, r.EmailAddress); err != nil && !Permanent(err) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	default:
		// Delivery, Send, Open and the rest carry nothing for the ledger.
		return nil
	}
}

// Permanent reports whether retrying the message can never succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, datanorm.ErrInvalidFormat) ||
		errors.Is(err, digest.ErrJobNotFound) ||
		errors.Is(err, digest.ErrNotRecipient) ||
		errors.Is(err, repos.ErrNotFound) ||
		errors.Is(err, repos.ErrArchived) ||
		errors.Is(err, ledger.ErrNotFound)
}

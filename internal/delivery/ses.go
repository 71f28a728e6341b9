package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/logger"
)

const defaultConcurrency = 8

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewSESClient builds an SES v2 client. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain. A positive
// timeout bounds each HTTP call.
func NewSESClient(ctx context.Context, region, accessKey, secretKey string, timeout time.Duration) (*sesv2.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if timeout > 0 {
		opts = append(opts, awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)))
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), nil
}

// Options configures an SESDeliverer.
type Options struct {
	FromEmail        string
	FromName         string
	ReplyTo          string
	ConfigurationSet string
	Concurrency      int
}

// SESDeliverer sends each recipient of a digest job its own message.
type SESDeliverer struct {
	client   SESAPI
	renderer *Renderer
	opts     Options
}

// NewSESDeliverer wires a deliverer.
func NewSESDeliverer(client SESAPI, renderer *Renderer, opts Options) (*SESDeliverer, error) {
	if opts.FromEmail == "" {
		return nil, ErrNoSender
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &SESDeliverer{client: client, renderer: renderer, opts: opts}, nil
}

// Deliver renders and sends the job. The report carries one result per
// recipient in job order. An error means nothing useful was sent: either a
// template failed or SES refused the sender outright.
func (d *SESDeliverer) Deliver(ctx context.Context, repo *domain.Repository, job *domain.DigestJob) (domain.DeliveryReport, error) {
	report := domain.DeliveryReport{JobID: job.ID, Results: make([]domain.RecipientResult, len(job.Recipients))}
	if len(job.Recipients) == 0 {
		return report, nil
	}

	var blocked atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)

	for i, addr := range job.Recipients {
		g.Go(func() error {
			if blocked.Load() {
				report.Results[i] = domain.RecipientResult{Address: addr, Outcome: domain.OutcomeFailed, Detail: "not attempted"}
				return nil
			}
			msg, err := d.renderer.Render(repo, job, addr)
			if err != nil {
				return err
			}
			res, err := d.send(gctx, repo, job, addr, msg)
			if errors.Is(err, ErrSendingBlocked) {
				blocked.Store(true)
				return err
			}
			report.Results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("digest delivery aborted", "job_id", job.ID, "repository_id", repo.ID, "error", err)
		return report, err
	}

	var delivered, failed int
	for _, r := range report.Results {
		if r.Outcome == domain.OutcomeDelivered {
			delivered++
		} else {
			failed++
		}
	}
	logger.Info("digest sent", "job_id", job.ID, "repository_id", repo.ID, "delivered", delivered, "not_delivered", failed)
	return report, nil
}

func (d *SESDeliverer) send(ctx context.Context, repo *domain.Repository, job *domain.DigestJob, addr string, msg Message) (domain.RecipientResult, error) {
	from := d.opts.FromEmail
	if d.opts.FromName != "" {
		from = fmt.Sprintf("%s <%s>", d.opts.FromName, d.opts.FromEmail)
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{addr}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("repository_id"), Value: aws.String(repo.ID)},
			{Name: aws.String("digest_job_id"), Value: aws.String(job.ID)},
		},
	}
	if d.opts.ReplyTo != "" {
		in.ReplyToAddresses = []string{d.opts.ReplyTo}
	}
	if d.opts.ConfigurationSet != "" {
		in.ConfigurationSetName = aws.String(d.opts.ConfigurationSet)
	}

	out, err := d.client.SendEmail(ctx, in)
	if err != nil {
		return classify(addr, err)
	}
	return domain.RecipientResult{Address: addr, Outcome: domain.OutcomeDelivered, MessageID: aws.ToString(out.MessageId)}, nil
}

// classify maps a synchronous SES error to a recipient outcome. Errors that
// block the whole account come back as ErrSendingBlocked.
func classify(addr string, err error) (domain.RecipientResult, error) {
	var (
		paused     *types.SendingPausedException
		suspended  *types.AccountSuspendedException
		unverified *types.MailFromDomainNotVerifiedException
		throttled  *types.TooManyRequestsException
		limited    *types.LimitExceededException
		badRequest *types.BadRequestException
	)
	res := domain.RecipientResult{Address: addr, Detail: err.Error()}

	switch {
	case errors.As(err, &paused), errors.As(err, &suspended), errors.As(err, &unverified):
		return res, fmt.Errorf("%w: %v", ErrSendingBlocked, err)
	case errors.As(err, &throttled), errors.As(err, &limited):
		res.Outcome = domain.OutcomeSoftBounce
	case errors.As(err, &badRequest):
		// SES rejects syntactically undeliverable destinations here.
		res.Outcome = domain.OutcomeHardBounce
	default:
		res.Outcome = domain.OutcomeFailed
	}
	return res, nil
}

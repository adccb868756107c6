package sesmail

import (
	"context"
	"errors"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	pkgerrors "github.com/pkg/errors"
	"github.com/radarsiope/radar/email"
	log "github.com/sirupsen/logrus"
)

var _ email.Transport = &SESMail{}

type sesClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMail sends email through AWS SES v2
type SESMail struct {
	client  sesClient
	from    string
	replyTo string
}

// NewSESMail loads the aws configuration for region. Static credentials are used when both keys
// are set, otherwise the default chain (env, shared config, role) applies.
func NewSESMail(ctx context.Context, region, accessKey, secretKey, from, replyTo string) (*SESMail, error) {
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "NewSESMail: failed to load aws config")
	}

	return &SESMail{
		client:  sesv2.NewFromConfig(cfg),
		from:    from,
		replyTo: replyTo,
	}, nil
}

// Send implements Transport Send()
func (s *SESMail) Send(ctx context.Context, msg email.Message) (string, error) {
	msg = msg.Defaults(s.from, s.replyTo)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: tags(msg.Tags),
	}

	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		sendErr := &email.SendError{Code: "ses_error", Message: err.Error(), Err: err}

		var ae smithy.APIError
		if errors.As(err, &ae) {
			sendErr.Code = ae.ErrorCode()
			sendErr.Message = ae.ErrorMessage()
		}

		log.WithError(err).WithField("code", sendErr.Code).Warn("SESMail: failed to send email")
		return "", sendErr
	}

	return aws.ToString(out.MessageId), nil
}

func tags(m map[string]string) []types.MessageTag {
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.MessageTag, 0, len(m))
	for _, k := range keys {
		out = append(out, types.MessageTag{Name: aws.String(k), Value: aws.String(m[k])})
	}
	return out
}

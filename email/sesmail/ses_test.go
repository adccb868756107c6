package sesmail

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/radarsiope/radar/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSES struct {
	mock.Mock
}

func (m *MockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func TestSESMail_Send(t *testing.T) {
	m := new(MockSES)
	m.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return aws.ToString(in.FromEmailAddress) == "Radar <radar@example.com>" &&
			in.Destination.ToAddresses[0] == "reader@example.com" &&
			aws.ToString(in.Content.Simple.Subject.Data) == "Edition 12" &&
			aws.ToString(in.Content.Simple.Body.Html.Data) == "<p>hi</p>" &&
			in.ReplyToAddresses[0] == "reply@example.com" &&
			len(in.EmailTags) == 2 && aws.ToString(in.EmailTags[0].Name) == "edition"
	})).Return(&sesv2.SendEmailOutput{MessageId: aws.String("0100-abc")}, nil)

	s := &SESMail{client: m, from: "Radar <radar@example.com>", replyTo: "reply@example.com"}

	id, err := s.Send(context.Background(), email.Message{
		To:      "reader@example.com",
		Subject: "Edition 12",
		HTML:    "<p>hi</p>",
		Tags:    map[string]string{"send": "s-1", "edition": "ed-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0100-abc", id)
	m.AssertExpectations(t)
}

func TestSESMail_SendRejected(t *testing.T) {
	m := new(MockSES)
	m.On("SendEmail", mock.Anything, mock.Anything).Return(nil, &smithy.GenericAPIError{
		Code:    "MessageRejected",
		Message: "Email address is not verified.",
	})

	s := &SESMail{client: m, from: "radar@example.com"}

	id, err := s.Send(context.Background(), email.Message{To: "reader@example.com", Subject: "x", HTML: "y"})
	require.Error(t, err)
	assert.Equal(t, "", id)
	assert.Equal(t, "MessageRejected", email.ErrorCode(err))

	var se *email.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Email address is not verified.", se.Message)
}

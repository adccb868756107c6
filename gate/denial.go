package gate

// Kind classifies why a link was not rendered
type Kind int

// Denial kinds
const (
	MalformedRequest Kind = iota + 1
	NotFound
	Unauthorized
	Expired
	AbuseSuspected
	Unavailable
)

var kindNames = map[Kind]string{
	MalformedRequest: "invalid_link",
	NotFound:         "not_found",
	Unauthorized:     "invalid_token",
	Expired:          "expired",
	AbuseSuspected:   "over_shared",
	Unavailable:      "unavailable",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Messages shown in place of the newsletter
const (
	MsgInvalidLink       = "invalid link"
	MsgSendNotFound      = "send record not found"
	MsgInvalidToken      = "invalid token"
	MsgLinkExpired       = "link expired"
	MsgEditionNotFound   = "newsletter not found"
	MsgRecipientNotFound = "recipient not found"
	MsgUnavailable       = "the newsletter is temporarily unavailable, please try again in a few minutes"
	MsgExclusive         = "Exclusive content: this link has been opened more times than expected and may have been shared. " +
		"Each edition is personal to its recipient. If you believe this is a mistake, please contact us."
)

// Denial is returned by Open when the newsletter must not be shown. Message is safe to show to
// the reader.
type Denial struct {
	Kind    Kind
	Message string
	Err     error
}

func (d *Denial) Error() string {
	if d.Err != nil {
		return d.Message + ": " + d.Err.Error()
	}
	return d.Message
}

func (d *Denial) Unwrap() error {
	return d.Err
}

func deny(k Kind, msg string) *Denial {
	return &Denial{Kind: k, Message: msg}
}

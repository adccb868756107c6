package dispatch

// Job is one email to send. It is consumed once.
type Job struct {
	ID             string `json:"id" yaml:"id"`
	RecipientEmail string `json:"recipientEmail" yaml:"recipientEmail"`
	Subject        string `json:"subject" yaml:"subject"`
	HTMLBody       string `json:"htmlBody" yaml:"htmlBody"`
	SendID         string `json:"sendId" yaml:"sendId"`
	RecipientID    string `json:"recipientId,omitempty" yaml:"recipientId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty" yaml:"subscriptionId,omitempty"`
	NewsletterID   string `json:"newsletterId,omitempty" yaml:"newsletterId,omitempty"`
	BatchID        string `json:"batchId,omitempty" yaml:"batchId,omitempty"`
}

// Result is the outcome of one job. OK only reflects the transport call.
type Result struct {
	JobID     string `json:"jobId"`
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	// RecordedBy is the delivery record strategy which stored the message id
	RecordedBy string `json:"recordedBy,omitempty"`
}

// Batches splits jobs into consecutive groups of at most size jobs
func Batches(jobs []Job, size int) [][]Job {
	if size < 1 {
		size = 1
	}

	var out [][]Job
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		out = append(out, jobs[start:end])
	}
	return out
}

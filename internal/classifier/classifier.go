package classifier

import "context"

// Classifier decides whether a client message requires a timely response.
// A returned error means the classification never happened; callers must
// leave the message unclassified rather than treat it as a "no".
type Classifier interface {
	NeedsReply(ctx context.Context, text, conversationContext string) (bool, error)
}

// Suggester produces a draft reply and a task list for the first reminder.
type Suggester interface {
	Suggest(ctx context.Context, text, conversationContext string) (reply string, tasks []string, err error)
}

// CommitmentDraft is a promise extracted from a responsible message.
type CommitmentDraft struct {
	Text          string
	RemindInHours int
}

// CommitmentExtractor looks for a concrete promise ("I'll send it by
// Friday") in a responsible message. A nil draft with a nil error means the
// message carries no commitment.
type CommitmentExtractor interface {
	ExtractCommitment(ctx context.Context, text, conversationContext string) (*CommitmentDraft, error)
}

// Greeter writes a short holiday greeting for one client chat, used by the
// daily holiday job.
type Greeter interface {
	HolidayGreeting(ctx context.Context, holiday, chatName string) (string, error)
}

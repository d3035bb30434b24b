package mailbox

import "context"

// Client is the capability surface a provider must implement for the engine
// to run automations against an account. Every call may fail transiently or
// permanently; wrap transient failures with Transient so callers can decide
// retry eligibility.
//
// EnsureLabel and EnsureFolder are lookup-or-create by name and must be safe
// under concurrent callers: two racing calls for the same name return the
// same id rather than creating duplicates.
//
// Providers without a native folder or label concept map the missing one
// onto what they have (Gmail folders become labels, IMAP labels become
// mailboxes). That mapping lives entirely in the provider.
type Client interface {
	GetMessage(ctx context.Context, id MessageID) (Email, error)
	GetThreadMessages(ctx context.Context, thread ThreadID) ([]Email, error)

	ArchiveThread(ctx context.Context, thread ThreadID) error
	LabelThread(ctx context.Context, thread ThreadID, label LabelID) error
	RemoveLabel(ctx context.Context, thread ThreadID, label LabelID) error
	MoveToFolder(ctx context.Context, thread ThreadID, folder FolderID) error
	MarkRead(ctx context.Context, thread ThreadID) error
	MarkSpam(ctx context.Context, thread ThreadID) error

	EnsureLabel(ctx context.Context, name string) (LabelID, error)
	EnsureFolder(ctx context.Context, name string) (FolderID, error)

	// ValidateLabelName checks a proposed name against the provider's naming
	// constraints without touching the account.
	ValidateLabelName(name string) error

	SendEmail(ctx context.Context, msg Outgoing) error
	DraftEmail(ctx context.Context, msg Outgoing) (string, error)
	ReplyToEmail(ctx context.Context, original MessageID, msg Outgoing) error
	ForwardEmail(ctx context.Context, original MessageID, msg Outgoing) error

	// ThreadsFromSender lists thread ids whose latest message is from the
	// given sender, newest first, for bulk operations. The executor archives
	// them in bounded batches so per-thread outcomes stay observable.
	ThreadsFromSender(ctx context.Context, sender string, limit int) ([]ThreadID, error)
}

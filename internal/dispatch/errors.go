package dispatch

import "errors"

var (
	// ErrCampaignUnavailable means the job's campaign is gone or no longer
	// in sending state. The job fails through the normal retry path, so a
	// resumed campaign picks its jobs back up.
	ErrCampaignUnavailable = errors.New("campaign unavailable")

	// ErrContactInactive means the job's contact is gone, unsubscribed, or
	// bounced since enqueue.
	ErrContactInactive = errors.New("contact not active")

	// ErrNoRecipients means a send was started with no pending recipients
	// attached to active contacts.
	ErrNoRecipients = errors.New("no valid recipients")

	// ErrNotSendable means the campaign status does not allow starting a
	// send.
	ErrNotSendable = errors.New("campaign cannot be sent from its current status")

	// ErrNotPausable means the campaign is not currently sending.
	ErrNotPausable = errors.New("only a sending campaign can be paused")
)

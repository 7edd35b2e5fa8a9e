package domain

import "context"

// StreamTarget addresses a live reply: conversation, thread and recipient.
type StreamTarget struct {
	ChannelID string
	ThreadTS  string
	TeamID    string
	UserID    string
}

// StreamSession is an open incremental-update surface in a chat thread.
// Stop finalizes the message; calling it more than once is a no-op.
type StreamSession interface {
	Append(ctx context.Context, text string) error
	Stop(ctx context.Context) error
}

// Streamer opens live reply sessions.
type Streamer interface {
	StartStream(ctx context.Context, target StreamTarget) (StreamSession, error)
}

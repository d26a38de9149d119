package repo

import "context"

// Publisher posts digest text to the target channel under the bot identity
type Publisher interface {
	// Publish sends text to the target chat, splitting into multiple
	// messages when the platform limit requires it.
	Publish(ctx context.Context, chatID, text string) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, chatID, text string) error

func (f PublisherFunc) Publish(ctx context.Context, chatID, text string) error {
	return f(ctx, chatID, text)
}

package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LogNotifier writes notices to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID string, n Notice) {
	fields := []zap.Field{
		zap.String("user_id", userID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	}
	if n.Kind == NoticeError {
		zap.L().Warn("jobs: notice", fields...)
		return
	}
	zap.L().Info("jobs: notice", fields...)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID string, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, userID string, n Notice) {
	f(ctx, userID, n)
}

func startedNotice() Notice {
	return Notice{Kind: NoticeSuccess, Title: "Lead generation started", Message: "We are searching for prospects matching your criteria."}
}

func failedToStartNotice(err error) Notice {
	return Notice{Kind: NoticeError, Title: "Failed to start lead generation", Message: err.Error()}
}

func completedNotice(found int) Notice {
	return Notice{Kind: NoticeSuccess, Title: "Lead generation complete", Message: fmt.Sprintf("Found %d leads.", found)}
}

func jobFailedNotice(msg string) Notice {
	if msg == "" {
		msg = "The enrichment pipeline reported a failure."
	}
	return Notice{Kind: NoticeError, Title: "Lead generation failed", Message: msg}
}

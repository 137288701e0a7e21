package service

import (
	"context"
	"encoding/json"
	"time"

	"codearena/internal/common/mq"
	"codearena/internal/submit/repository"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultJudgedTopic = "submission.judged"
	eventTypeHeader    = "event-type"
	eventTypeJudged    = "submission.judged"
)

// JudgedEvent is published after a submission is recorded.
type JudgedEvent struct {
	SubmissionID string    `json:"submission_id"`
	UserID       int64     `json:"user_id"`
	ProblemID    int64     `json:"problem_id"`
	ContestID    int64     `json:"contest_id,omitempty"`
	Language     string    `json:"language"`
	Status       string    `json:"status"`
	TimeMs       int64     `json:"time_ms"`
	MemoryKB     int64     `json:"memory_kb"`
	Cases        int       `json:"cases"`
	CreatedAt    time.Time `json:"created_at"`
}

type eventPublisher struct {
	producer mq.Producer
	topic    string
}

// newEventPublisher returns nil when no producer is configured.
func newEventPublisher(producer mq.Producer, topic string) *eventPublisher {
	if producer == nil {
		return nil
	}
	if topic == "" {
		topic = defaultJudgedTopic
	}
	return &eventPublisher{producer: producer, topic: topic}
}

func (p *eventPublisher) publish(ctx context.Context, submission *repository.Submission) error {
	body, err := json.Marshal(JudgedEvent{
		SubmissionID: submission.SubmissionID,
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		ContestID:    submission.ContestID,
		Language:     submission.Language,
		Status:       string(submission.Status),
		TimeMs:       submission.TimeMs,
		MemoryKB:     submission.MemoryKB,
		Cases:        len(submission.Results),
		CreatedAt:    submission.CreatedAt,
	})
	if err != nil {
		return err
	}
	message := mq.NewMessage(body)
	message.ID = submission.SubmissionID
	message.SetHeader(eventTypeHeader, eventTypeJudged)
	return p.producer.Publish(ctx, p.topic, message)
}

// publishJudged is best-effort; the submission is already recorded.
func (s *SubmitService) publishJudged(ctx context.Context, submission *repository.Submission) {
	if s.events == nil {
		return
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.events.publish(ctxMQ.ctx, submission); err != nil {
		s.metrics.SideEffectFailed("judged_event")
		logger.Warn(ctx, "publish judged event failed", zap.Error(err))
	}
}

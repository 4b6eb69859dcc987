package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"

	"postboard/internal/metrics"
)

type Service struct {
	repo      Repository
	sender    Sender
	publicKey string
	pool      *workerpool.WorkerPool
	timeout   time.Duration
	log       *slog.Logger

	inflight sync.WaitGroup
}

// NewService builds the push registry. sender may be nil when no VAPID
// keys are configured; subscriptions are still recorded.
func NewService(repo Repository, sender Sender, publicKey string, workers int) *Service {
	if workers <= 0 {
		workers = 8
	}
	return &Service{
		repo:      repo,
		sender:    sender,
		publicKey: publicKey,
		pool:      workerpool.New(workers),
		timeout:   30 * time.Second,
		log:       slog.Default(),
	}
}

func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *Service) PublicKey() (string, error) {
	if s.publicKey == "" {
		return "", ErrDisabled
	}
	return s.publicKey, nil
}

func (s *Service) Subscribe(ctx context.Context, sub Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	return s.repo.Save(ctx, sub)
}

func (s *Service) Unsubscribe(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	return s.repo.Delete(ctx, endpoint)
}

// Broadcast sends msg to every subscription. Endpoints the push service
// reports as gone are removed. The returned error aggregates the failed
// deliveries; the report is valid either way.
func (s *Service) Broadcast(ctx context.Context, msg Message) (Report, error) {
	if s.sender == nil {
		return Report{}, ErrDisabled
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return Report{}, err
	}
	subs, err := s.repo.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list subscriptions: %w", err)
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report Report
		errs   *multierror.Error
	)
	for _, sub := range subs {
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			result, err := s.deliver(ctx, sub, payload)
			metrics.IncPushDelivery(result)

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case "sent":
				report.Sent++
			case "removed":
				report.Removed++
			default:
				report.Failed++
				errs = multierror.Append(errs, err)
			}
		})
	}
	wg.Wait()

	s.log.Info("push broadcast", "type", msg.Type, "sent", report.Sent, "failed", report.Failed, "removed", report.Removed)
	return report, errs.ErrorOrNil()
}

func (s *Service) deliver(ctx context.Context, sub Subscription, payload []byte) (string, error) {
	status, err := s.sender.Send(ctx, sub, payload)
	if gone(status) {
		if err := s.repo.Delete(ctx, sub.Endpoint); err != nil {
			return "failed", fmt.Errorf("remove %s: %w", sub.Endpoint, err)
		}
		return "removed", nil
	}
	if err != nil {
		return "failed", fmt.Errorf("send to %s: %w", sub.Endpoint, err)
	}
	if status >= 300 {
		return "failed", fmt.Errorf("send to %s: push service returned %d", sub.Endpoint, status)
	}
	return "sent", nil
}

// Notify broadcasts in the background and only logs the outcome.
func (s *Service) Notify(title, body, url, kind string) {
	if s.sender == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Broadcast(ctx, Message{Title: title, Body: body, URL: url, Type: kind}); err != nil {
			s.log.Warn("push notify failed", "type", kind, "error", err)
		}
	}()
}

// Close waits for background notifications and stops the worker pool.
func (s *Service) Close() {
	s.inflight.Wait()
	s.pool.StopWait()
}

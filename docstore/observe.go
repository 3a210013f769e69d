// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Observer receives the changes of a subscription in token order.
//
// OnNext is called before the subscription cursor moves past the change; a
// non-nil error ends the subscription and is reported through OnError.
// Exactly one of OnError or OnCompleted is called, once.
type Observer interface {
	OnNext(ctx context.Context, change *Change) error
	OnError(err error)
	OnCompleted()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are no-ops.
type ObserverFuncs struct {
	Next      func(ctx context.Context, change *Change) error
	Error     func(err error)
	Completed func()
}

func (o ObserverFuncs) OnNext(ctx context.Context, change *Change) error {
	if o.Next == nil {
		return nil
	}
	return o.Next(ctx, change)
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o ObserverFuncs) OnCompleted() {
	if o.Completed != nil {
		o.Completed()
	}
}

// Subscription is a running push feed over one area.
type Subscription struct {
	log    *ChangeLog
	cancel context.CancelFunc
	done   chan struct{}
	cursor atomic.Int64
	err    error
}

// Stop cancels the subscription and waits for it to complete.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the observer has been completed or errored.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cursor returns the token of the last change delivered.
func (s *Subscription) Cursor() int64 { return s.cursor.Load() }

// Err returns the observer error that ended the subscription. It is nil while
// running and after cancellation.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

type observerError struct{ err error }

func (e *observerError) Error() string { return e.err.Error() }
func (e *observerError) Unwrap() error { return e.err }

// Subscribe delivers every change after since to observer until ctx is
// cancelled, the subscription is stopped, or the store is closed. Delivery is
// at-least-once and strictly ordered: a change is handed to the observer
// before the cursor advances past it.
func (c *ChangeLog) Subscribe(ctx context.Context, since int64, observer Observer) (*Subscription, error) {
	if observer == nil {
		return nil, &ValidationError{Field: "observer", Reason: "must not be nil"}
	}
	if err := c.area.store.checkClosed(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{log: c, cancel: cancel, done: make(chan struct{})}
	sub.cursor.Store(since)
	if !c.area.store.track(sub) {
		cancel()
		return nil, ErrClosed
	}

	c.area.store.logger.Debug("Subscription started", "area", c.area.name, "since", since)
	go sub.run(ctx, observer)
	return sub, nil
}

// Changes is Subscribe with a channel. The channel is closed when the
// subscription ends; Subscription.Err reports why.
func (c *ChangeLog) Changes(ctx context.Context, since int64) (<-chan *Change, *Subscription, error) {
	ch := make(chan *Change)
	sub, err := c.Subscribe(ctx, since, ObserverFuncs{
		Next: func(ctx context.Context, change *Change) error {
			select {
			case ch <- change:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		Error:     func(error) { close(ch) },
		Completed: func() { close(ch) },
	})
	if err != nil {
		return nil, nil, err
	}
	return ch, sub, nil
}

func (s *Subscription) run(ctx context.Context, observer Observer) {
	a := s.log.area
	defer close(s.done)
	defer a.store.untrack(s)
	defer s.cancel()

	attempt := 0
	for {
		err := s.listen(ctx, observer, &attempt)
		if ctx.Err() != nil {
			a.store.logger.Debug("Subscription completed", "area", a.name, "cursor", s.Cursor())
			observer.OnCompleted()
			return
		}
		var oe *observerError
		if errors.As(err, &oe) {
			s.err = oe.err
			a.store.logger.Debug("Subscription ended by observer", "area", a.name, "cursor", s.Cursor(), "error", oe.err)
			observer.OnError(oe.err)
			return
		}

		attempt++
		delay := backoff(attempt, retryBaseDelay, retryMaxDelay)
		a.store.logger.Warn("Subscription poll failed, retrying",
			"area", a.name,
			"cursor", s.Cursor(),
			"attempt", attempt,
			"retryable", isRetryablePGError(err),
			"delay", delay,
			"error", err)
		if sleepWithContext(ctx, delay) != nil {
			observer.OnCompleted()
			return
		}
	}
}

// listen holds one pooled connection, LISTENs on the area channel and polls
// from the cursor whenever a notification arrives or the poll interval lapses.
// It returns on the first error.
func (s *Subscription) listen(ctx context.Context, observer Observer, attempt *int) error {
	a := s.log.area
	conn, err := a.store.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{a.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer func() {
		// The connection goes back to the pool; stop receiving on it.
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+pgx.Identifier{a.channel}.Sanitize())
	}()

	for {
		n, err := s.poll(ctx, conn.Conn(), observer)
		if err != nil {
			return err
		}
		*attempt = 0
		if n >= a.cfg.PageSize {
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, a.cfg.PollInterval)
		_, err = conn.Conn().WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				continue
			}
			return fmt.Errorf("failed to wait for notification: %w", err)
		}
	}
}

// poll delivers one page of changes after the cursor and returns the number of rows read.
func (s *Subscription) poll(ctx context.Context, conn *pgx.Conn, observer Observer) (int, error) {
	a := s.log.area
	exists, err := a.probeTables(ctx)
	if err != nil || !exists {
		return 0, err
	}
	rows, err := s.log.query(ctx, conn, s.Cursor(), a.cfg.PageSize)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := observer.OnNext(ctx, s.log.newChange(r)); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, &observerError{err: err}
		}
		s.cursor.Store(r.Token)
	}
	return len(rows), nil
}

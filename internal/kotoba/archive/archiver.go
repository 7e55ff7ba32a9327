package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultAsyncTimeout bounds one background archive job.
const DefaultAsyncTimeout = 10 * time.Second

// Archiver writes a conversation snapshot to a Store:
//  1. the session row,
//  2. one user and one assistant message per turn, ordered 1..2N,
//  3. the end marker, which is written even when some messages failed.
type Archiver struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewArchiver returns an Archiver on s. If logger is nil, the default slog
// logger is used.
func NewArchiver(s Store, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: s, logger: logger, timeout: DefaultAsyncTimeout}
}

// Archive persists snap and ends it with reason. It returns the archive id
// (empty when the session row could not be written) and every write error
// joined together; a nil error means the archive is complete.
func (a *Archiver) Archive(ctx context.Context, snap Snapshot, reason string) (string, error) {
	id, err := a.store.SaveSession(ctx, Session{
		SessionKey: snap.SessionKey,
		Identity:   snap.Identity,
		Model:      snap.Model,
		Provider:   snap.Provider,
		Meta:       snap.Meta,
		StartedAt:  snap.StartedAt,
	})
	if err != nil {
		return "", fmt.Errorf("archive: save session: %w", err)
	}

	var errs []error
	saved := 0
	order := 0
	write := func(sender Sender, name, content string, at time.Time) {
		order++
		_, err := a.store.SaveMessage(ctx, Message{
			SessionID:  id,
			Sender:     sender,
			SenderName: name,
			Content:    content,
			Order:      order,
			CreatedAt:  at,
		})
		if err != nil {
			errs = append(errs, err)
			return
		}
		saved++
	}
	for _, t := range snap.Turns {
		write(SenderUser, snap.Identity, t.User, t.At)
		write(SenderAssistant, snap.Model, t.Assistant, t.At)
	}

	if _, err := a.store.EndSession(ctx, id, reason, saved); err != nil {
		errs = append(errs, fmt.Errorf("archive: end session: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return id, err
	}

	a.logger.Info("archive: session archived",
		"archive_id", id,
		"session_id", snap.SessionKey,
		"messages", saved,
		"reason", reason,
	)
	return id, nil
}

// ArchiveAsync runs Archive in the background on a context detached from
// the caller, bounded by the archiver timeout. Failures are logged only.
func (a *Archiver) ArchiveAsync(snap Snapshot, reason string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if _, err := a.Archive(ctx, snap, reason); err != nil {
			a.logger.Error("archive: background archive failed",
				"session_id", snap.SessionKey,
				"reason", reason,
				"err", err,
			)
		}
	}()
}

// Wait blocks until every ArchiveAsync job has returned.
func (a *Archiver) Wait() { a.wg.Wait() }

package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Sender delivers a single collaborator-added notification.
type Sender interface {
	SendCollaboratorAdded(to, recipientName, ownerName, noteTitle string) error
}

// CollaboratorAdded describes a completed collaboration write.
type CollaboratorAdded struct {
	RecipientEmail string
	RecipientName  string
	OwnerName      string
	NoteTitle      string
}

// Notifier dispatches notifications asynchronously after the triggering
// write has committed. Send failures are logged and dropped.
type Notifier struct {
	sender Sender
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewNotifier(sender Sender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

// NotifyCollaboratorAdded fires the notification in the background and
// returns immediately.
func (n *Notifier) NotifyCollaboratorAdded(event CollaboratorAdded) {
	if n == nil || n.sender == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		err := n.sender.SendCollaboratorAdded(event.RecipientEmail, event.RecipientName, event.OwnerName, event.NoteTitle)
		if err != nil {
			n.logger.Warn("collaborator notification failed",
				zap.String("recipient", event.RecipientEmail),
				zap.Error(err))
		}
	}()
}

// Flush blocks until all in-flight notifications have been attempted. Used
// on shutdown and in tests.
func (n *Notifier) Flush() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

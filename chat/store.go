package chat

import "github.com/brokemediaio-a11y/OffLink/identity"

// Store is the persistence collaborator the reconciler writes through.
// Store failures are logged, never surfaced to reconciliation callers.
type Store interface {
	SaveMessage(m Message) error
	UpdateStatus(messageID string, status DeliveryStatus) error
	GetAllMessages() ([]Message, error)
	GetMessagesForConversation(peer identity.PeerID) ([]Message, error)
	GetDisplayName(peer identity.PeerID) (string, error)
	SetDisplayName(peer identity.PeerID, name string) error
	Close() error
}

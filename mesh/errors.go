package mesh

import "errors"

var (
	// ErrAlreadyPending is returned by CreateOffer while another locally
	// created offer is still awaiting its answer.
	ErrAlreadyPending = errors.New("an offer is already pending")

	// ErrInvalidOffer is returned when AcceptOffer is given text that is
	// not a decodable offer.
	ErrInvalidOffer = errors.New("invalid offer")

	// ErrInvalidAnswer is returned when AcceptAnswer is given text that is
	// not a decodable answer, or the answer cannot be applied.
	ErrInvalidAnswer = errors.New("invalid answer")

	// ErrNoPendingOffer is returned by AcceptAnswer when no local offer is
	// awaiting an answer.
	ErrNoPendingOffer = errors.New("no pending offer")

	// ErrDuplicatePeer is returned when a handshake would resolve to a
	// peer identity that already has a tracked connection.
	ErrDuplicatePeer = errors.New("peer already has a connection")

	// ErrManagerClosed is returned from operations on a shut-down manager.
	ErrManagerClosed = errors.New("manager is shut down")
)

package store

import (
	"context"
	"errors"

	"voiceletter/pkg/domain"
)

var (
	// ErrMemberNotFound indicates a referenced member id does not exist.
	ErrMemberNotFound = errors.New("member not found")
	// ErrAudioNotFound indicates no audio row exists for the id.
	ErrAudioNotFound = errors.New("audio not found")
	// ErrAlreadyFollowed indicates the (follower, followee) edge already exists.
	ErrAlreadyFollowed = errors.New("already followed")
	// ErrLoginFailed indicates no member matched the id/password pair.
	ErrLoginFailed = errors.New("no member matches credentials")
)

// Store defines persistence operations for members, voice letters, and
// follow relationships.
type Store interface {
	// members
	CreateMember(ctx context.Context, username, password string) (domain.Member, error)
	GetMember(ctx context.Context, id int) (domain.Member, bool, error)
	Login(ctx context.Context, id int, password string) (domain.MemberWithRelations, error)

	// audio
	CreateAudio(ctx context.Context, ownerID, receiverID int, title, fileName, text, processText string) (domain.Audio, error)
	GetAudio(ctx context.Context, id int) (domain.Audio, bool, error)
	ListAudioByOwner(ctx context.Context, ownerID int) ([]domain.Audio, error)
	ListAudioByReceiver(ctx context.Context, receiverID int) ([]domain.Audio, error)

	// follows
	CreateFollow(ctx context.Context, followerID, followeeID int) error
}

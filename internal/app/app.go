package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"

	"voiceletter/internal/storage"
	"voiceletter/internal/store"
	"voiceletter/internal/util"
	"voiceletter/pkg/domain"
)

// Form field values are short text; anything larger is a client error.
const maxFieldBytes = 1 << 20

// App wires the relational store and blob store into the voice-letter
// operations the HTTP layer exposes.
type App struct {
	store store.Store
	blobs storage.BlobStore
}

// New constructs the application core.
func New(st store.Store, blobs storage.BlobStore) *App {
	return &App{store: st, blobs: blobs}
}

// SaveAudio consumes one multipart request in arrival order: text fields are
// captured, the file part is streamed to the blob store as soon as it is
// seen, and only after every part succeeded is the audio row inserted. A
// failed insert removes the freshly written blob so neither side leaks.
func (a *App) SaveAudio(ctx context.Context, mr *multipart.Reader) (domain.Audio, error) {
	logger := util.LoggerFromContext(ctx)

	var (
		fields   = map[string]string{}
		fileName string
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			a.discardBlob(ctx, fileName)
			return domain.Audio{}, fmt.Errorf("%w: malformed multipart body: %w", ErrInvalidRequest, err)
		}
		if err := a.consumePart(ctx, part, fields, &fileName); err != nil {
			a.discardBlob(ctx, fileName)
			return domain.Audio{}, err
		}
	}

	ownerID, err := strconv.Atoi(fields["id"])
	if err != nil {
		a.discardBlob(ctx, fileName)
		return domain.Audio{}, fmt.Errorf("%w: id must be numeric", ErrInvalidRequest)
	}
	receiverID, err := strconv.Atoi(fields["receiverId"])
	if err != nil {
		a.discardBlob(ctx, fileName)
		return domain.Audio{}, fmt.Errorf("%w: receiverId must be numeric", ErrInvalidRequest)
	}

	record, err := a.store.CreateAudio(ctx, ownerID, receiverID,
		fields["title"], fileName, fields["text"], fields["processText"])
	if err != nil {
		// The blob was written before the insert failed; clean it up so no
		// orphan file accumulates.
		a.discardBlob(ctx, fileName)
		if errors.Is(err, store.ErrMemberNotFound) {
			return domain.Audio{}, fmt.Errorf("%w: %s", ErrNotFound, err)
		}
		return domain.Audio{}, fmt.Errorf("create audio: %w", err)
	}
	logger.Info("voice letter saved", "audio_id", record.ID, "owner_id", ownerID, "receiver_id", receiverID)
	return record, nil
}

// consumePart handles a single part and always releases it.
func (a *App) consumePart(ctx context.Context, part *multipart.Part, fields map[string]string, fileName *string) error {
	defer part.Close()

	if part.FileName() != "" {
		// One letter carries one recording; a second file part would
		// orphan the blob already written.
		if *fileName != "" {
			return fmt.Errorf("%w: multiple file parts", ErrInvalidRequest)
		}
		name, err := a.blobs.Save(ctx, filepath.Ext(part.FileName()), part)
		if err != nil {
			return fmt.Errorf("store audio file: %w", err)
		}
		*fileName = name
		return nil
	}

	switch field := part.FormName(); field {
	case "id", "receiverId", "text", "title", "processText":
		value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		if err != nil {
			return fmt.Errorf("%w: read field %s: %w", ErrInvalidRequest, field, err)
		}
		fields[field] = string(value)
	default:
		// Unrecognized fields are ignored, but still drained and closed.
	}
	return nil
}

func (a *App) discardBlob(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := a.blobs.Remove(ctx, name); err != nil {
		util.LoggerFromContext(ctx).Warn("discard blob", "name", name, "err", err)
	}
}

// GetAudio returns one voice letter's metadata.
func (a *App) GetAudio(ctx context.Context, id int) (domain.Audio, error) {
	record, found, err := a.store.GetAudio(ctx, id)
	if err != nil {
		return domain.Audio{}, fmt.Errorf("get audio: %w", err)
	}
	if !found {
		return domain.Audio{}, fmt.Errorf("%w: audio %d", ErrNotFound, id)
	}
	return record, nil
}

// OpenAudioFile resolves a letter's stored file to a read handle. A row
// whose backing blob is gone reports NotFound, same as a missing row.
func (a *App) OpenAudioFile(ctx context.Context, id int) (domain.Audio, io.ReadCloser, error) {
	record, err := a.GetAudio(ctx, id)
	if err != nil {
		return domain.Audio{}, nil, err
	}
	rc, err := a.blobs.Open(ctx, record.FileName)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return domain.Audio{}, nil, fmt.Errorf("%w: file for audio %d", ErrNotFound, id)
		}
		return domain.Audio{}, nil, fmt.Errorf("open audio file: %w", err)
	}
	return record, rc, nil
}

// ListAudioByOwner returns the letters a member wrote.
func (a *App) ListAudioByOwner(ctx context.Context, ownerID int) ([]domain.Audio, error) {
	return a.store.ListAudioByOwner(ctx, ownerID)
}

// ListAudioByReceiver returns the letters a member received.
func (a *App) ListAudioByReceiver(ctx context.Context, receiverID int) ([]domain.Audio, error) {
	return a.store.ListAudioByReceiver(ctx, receiverID)
}

// RegisterMember creates a new member.
func (a *App) RegisterMember(ctx context.Context, username, password string) (domain.Member, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Member{}, fmt.Errorf("%w: username and password required", ErrInvalidRequest)
	}
	member, err := a.store.CreateMember(ctx, username, password)
	if err != nil {
		return domain.Member{}, fmt.Errorf("register member: %w", err)
	}
	return member, nil
}

// GetMember returns a member's public identity.
func (a *App) GetMember(ctx context.Context, id int) (domain.MemberRef, error) {
	member, found, err := a.store.GetMember(ctx, id)
	if err != nil {
		return domain.MemberRef{}, fmt.Errorf("get member: %w", err)
	}
	if !found {
		return domain.MemberRef{}, fmt.Errorf("%w: member %d", ErrNotFound, id)
	}
	return member.Ref(), nil
}

// Login checks the id/password pair and returns the member with its
// following and follower lists. The comparison is a plain equality check,
// matching the registration contract.
func (a *App) Login(ctx context.Context, id int, password string) (domain.MemberWithRelations, error) {
	member, err := a.store.Login(ctx, id, password)
	if err != nil {
		if errors.Is(err, store.ErrLoginFailed) {
			return domain.MemberWithRelations{}, fmt.Errorf("%w: no matching member", ErrNotFound)
		}
		return domain.MemberWithRelations{}, fmt.Errorf("login: %w", err)
	}
	return member, nil
}

// Follow creates the symmetric follow relationship between two members.
func (a *App) Follow(ctx context.Context, followerID, followeeID int) error {
	if followerID <= 0 || followeeID <= 0 {
		return fmt.Errorf("%w: followerId and followeeId required", ErrInvalidRequest)
	}
	if followerID == followeeID {
		return fmt.Errorf("%w: cannot follow self", ErrInvalidRequest)
	}
	if err := a.store.CreateFollow(ctx, followerID, followeeID); err != nil {
		switch {
		case errors.Is(err, store.ErrMemberNotFound):
			return fmt.Errorf("%w: %s", ErrNotFound, err)
		case errors.Is(err, store.ErrAlreadyFollowed):
			return ErrAlreadyFollowing
		}
		return fmt.Errorf("create follow: %w", err)
	}
	return nil
}

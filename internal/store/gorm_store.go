package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"voiceletter/pkg/domain"
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres-backed store and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return New(postgres.Open(dsn))
}

// New opens the store on any GORM dialector and runs auto-migrations.
// Tests use this with an in-memory sqlite dialector.
func New(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
		// Surfaces unique-key violations as gorm.ErrDuplicatedKey so the
		// follow insert race maps cleanly to ErrAlreadyFollowed.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&MemberModel{}, &AudioModel{}, &FollowModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateMember registers a new member.
func (s *GormStore) CreateMember(ctx context.Context, username, password string) (domain.Member, error) {
	model := MemberModel{Username: username, Password: password}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	return memberFromModel(model), nil
}

// GetMember returns a member by id.
func (s *GormStore) GetMember(ctx context.Context, id int) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	return memberFromModel(model), true, nil
}

// Login matches a member by id and exact password, then materializes the
// member's following and follower lists. Returns ErrLoginFailed when no
// member matches.
func (s *GormStore) Login(ctx context.Context, id int, password string) (domain.MemberWithRelations, error) {
	var result domain.MemberWithRelations
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member MemberModel
		if err := tx.Where("id = ? AND password = ?", id, password).First(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoginFailed
			}
			return err
		}

		var following []MemberModel
		if err := tx.Model(&MemberModel{}).
			Joins("JOIN follows ON follows.followee_id = members.id").
			Where("follows.follower_id = ?", member.ID).
			Find(&following).Error; err != nil {
			return fmt.Errorf("load following: %w", err)
		}
		var followers []MemberModel
		if err := tx.Model(&MemberModel{}).
			Joins("JOIN follows ON follows.follower_id = members.id").
			Where("follows.followee_id = ?", member.ID).
			Find(&followers).Error; err != nil {
			return fmt.Errorf("load followers: %w", err)
		}

		result = domain.MemberWithRelations{
			ID:        member.ID,
			Username:  member.Username,
			Following: memberRefs(following),
			Followers: memberRefs(followers),
		}
		return nil
	})
	if err != nil {
		return domain.MemberWithRelations{}, err
	}
	return result, nil
}

// CreateAudio inserts one voice letter. Owner and receiver lookups and the
// insert run in one transaction; a failure at any step rolls back the whole
// operation.
func (s *GormStore) CreateAudio(ctx context.Context, ownerID, receiverID int, title, fileName, text, processText string) (domain.Audio, error) {
	var record domain.Audio
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner MemberModel
		if err := tx.First(&owner, "id = ?", ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("owner %d: %w", ownerID, ErrMemberNotFound)
			}
			return err
		}
		var receiver MemberModel
		if err := tx.First(&receiver, "id = ?", receiverID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("receiver %d: %w", receiverID, ErrMemberNotFound)
			}
			return err
		}

		model := AudioModel{
			OwnerID:     owner.ID,
			ReceiverID:  receiver.ID,
			Title:       title,
			FileName:    fileName,
			Text:        text,
			ProcessText: processText,
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert audio: %w", err)
		}
		model.Owner = owner
		model.Receiver = receiver
		record = audioFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Audio{}, err
	}
	return record, nil
}

// GetAudio returns one voice letter with owner and receiver resolved.
func (s *GormStore) GetAudio(ctx context.Context, id int) (domain.Audio, bool, error) {
	var model AudioModel
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Receiver").
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Audio{}, false, nil
		}
		return domain.Audio{}, false, err
	}
	return audioFromModel(model), true, nil
}

// ListAudioByOwner returns all voice letters written by a member.
func (s *GormStore) ListAudioByOwner(ctx context.Context, ownerID int) ([]domain.Audio, error) {
	return s.listAudio(ctx, "owner_id = ?", ownerID)
}

// ListAudioByReceiver returns all voice letters addressed to a member.
func (s *GormStore) ListAudioByReceiver(ctx context.Context, receiverID int) ([]domain.Audio, error) {
	return s.listAudio(ctx, "receiver_id = ?", receiverID)
}

func (s *GormStore) listAudio(ctx context.Context, cond string, id int) ([]domain.Audio, error) {
	var models []AudioModel
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Receiver").
		Where(cond, id).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	records := make([]domain.Audio, len(models))
	for i, m := range models {
		records[i] = audioFromModel(m)
	}
	return records, nil
}

// CreateFollow inserts the (follower, followee) edge in both directions
// atomically. The existence check is a fast path; the composite primary key
// on follows catches the race, which also maps to ErrAlreadyFollowed.
func (s *GormStore) CreateFollow(ctx context.Context, followerID, followeeID int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var follower, followee MemberModel
		if err := tx.First(&follower, "id = ?", followerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("follower %d: %w", followerID, ErrMemberNotFound)
			}
			return err
		}
		if err := tx.First(&followee, "id = ?", followeeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("followee %d: %w", followeeID, ErrMemberNotFound)
			}
			return err
		}

		var count int64
		if err := tx.Model(&FollowModel{}).
			Where("follower_id = ? AND followee_id = ?", follower.ID, followee.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyFollowed
		}

		edges := []FollowModel{
			{FollowerID: follower.ID, FolloweeID: followee.ID},
			{FollowerID: followee.ID, FolloweeID: follower.ID},
		}
		if err := tx.Create(&edges).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyFollowed
			}
			return fmt.Errorf("insert follow: %w", err)
		}
		return nil
	})
}

func memberFromModel(m MemberModel) domain.Member {
	return domain.Member{ID: m.ID, Username: m.Username, Password: m.Password}
}

func memberRefs(models []MemberModel) []domain.MemberRef {
	refs := make([]domain.MemberRef, len(models))
	for i, m := range models {
		refs[i] = domain.MemberRef{ID: m.ID, Username: m.Username}
	}
	return refs
}

func audioFromModel(m AudioModel) domain.Audio {
	return domain.Audio{
		ID:          m.ID,
		Title:       m.Title,
		Owner:       domain.MemberRef{ID: m.Owner.ID, Username: m.Owner.Username},
		Receiver:    domain.MemberRef{ID: m.Receiver.ID, Username: m.Receiver.Username},
		FileName:    m.FileName,
		Text:        m.Text,
		ProcessText: m.ProcessText,
		CreatedAt:   m.CreatedAt,
	}
}

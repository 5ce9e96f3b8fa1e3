package store

import "time"

// GORM models used for persistence.
type MemberModel struct {
	ID       int    `gorm:"primaryKey"`
	Username string `gorm:"type:varchar(255);not null"`
	Password string `gorm:"type:varchar(255);not null"`
}

func (MemberModel) TableName() string { return "members" }

type AudioModel struct {
	ID          int         `gorm:"primaryKey"`
	OwnerID     int         `gorm:"not null;index"`
	Owner       MemberModel `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
	ReceiverID  int         `gorm:"not null;index"`
	Receiver    MemberModel `gorm:"foreignKey:ReceiverID;constraint:OnDelete:CASCADE"`
	Title       string      `gorm:"type:varchar(255);not null"`
	FileName    string      `gorm:"type:varchar(255);not null"`
	Text        string      `gorm:"type:text;not null"`
	ProcessText string      `gorm:"type:text;not null"`
	CreatedAt   time.Time   `gorm:"not null"`
}

func (AudioModel) TableName() string { return "audio" }

// FollowModel is one directed edge. The composite primary key
// (follower_id, followee_id) is the authoritative duplicate defense; a
// logical follow always inserts both directions in one transaction.
type FollowModel struct {
	FollowerID int         `gorm:"primaryKey;autoIncrement:false"`
	Follower   MemberModel `gorm:"foreignKey:FollowerID;constraint:OnDelete:CASCADE"`
	FolloweeID int         `gorm:"primaryKey;autoIncrement:false"`
	Followee   MemberModel `gorm:"foreignKey:FolloweeID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
}

func (FollowModel) TableName() string { return "follows" }

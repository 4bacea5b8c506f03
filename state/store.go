package state

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"poap/engine/library"
)

var (
	// ErrIssuerExists means the one-issuer-per-user or one-issuer-per-pubkey
	// invariant would be violated.
	ErrIssuerExists = errors.New("an issuer already exists for this user or public key")
	// ErrAwardExists means the (badge, claimant) pair already has an award.
	ErrAwardExists = errors.New("badge was already awarded to this pubkey")
)

// Store is the thin persistence collaborator for issuers, badges and awards.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Issuer{}, &Badge{}, &Award{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func freshID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// --- issuers ---

// CreateIssuer enforces one issuer per user and one per public key. Creation
// is funnelled through the single engine writer so check-then-insert is
// enough here; the unique indexes are the backstop.
func (s *Store) CreateIssuer(userID, privateKeyHex string, publicKey library.Account, meta string) (*Issuer, error) {
	if publicKey == "" {
		derived, err := library.DerivePublicKey(privateKeyHex)
		if err != nil {
			return nil, err
		}
		publicKey = derived
	}
	if existing, err := s.GetIssuerByPublicKey(publicKey); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrIssuerExists
	}
	if existing, err := s.GetIssuerForUser(userID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrIssuerExists
	}
	if meta == "" {
		meta = "{}"
	}
	issuer := Issuer{
		ID:         freshID(),
		UserID:     userID,
		PrivateKey: privateKeyHex,
		PublicKey:  publicKey,
		Meta:       meta,
	}
	if err := s.db.Create(&issuer).Error; err != nil {
		return nil, fmt.Errorf("create issuer: %w", err)
	}
	return &issuer, nil
}

func (s *Store) GetIssuer(id string) (*Issuer, error) {
	var issuer Issuer
	err := s.db.First(&issuer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issuer, nil
}

func (s *Store) GetIssuerForUser(userID string) (*Issuer, error) {
	var issuer Issuer
	err := s.db.First(&issuer, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issuer, nil
}

func (s *Store) GetIssuerByPublicKey(pubkey library.Account) (*Issuer, error) {
	var issuer Issuer
	err := s.db.First(&issuer, "public_key = ?", pubkey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issuer, nil
}

// GetIssuerPublicKeys returns the author set used to build relay filters.
func (s *Store) GetIssuerPublicKeys() ([]library.Account, error) {
	var keys []library.Account
	if err := s.db.Model(&Issuer{}).Pluck("public_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// --- badges ---

// CreateBadge stores a locally authored badge. A fresh id is generated when
// the caller did not supply one.
func (s *Store) CreateBadge(badge Badge) (*Badge, error) {
	if badge.ID == "" {
		badge.ID = freshID()
	}
	if err := s.db.Create(&badge).Error; err != nil {
		return nil, fmt.Errorf("create badge: %w", err)
	}
	return &badge, nil
}

func (s *Store) GetBadge(id string) (*Badge, error) {
	var badge Badge
	err := s.db.First(&badge, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &badge, nil
}

func (s *Store) GetBadges(issuerID string) ([]Badge, error) {
	var badges []Badge
	if err := s.db.Find(&badges, "issuer_id = ?", issuerID).Error; err != nil {
		return nil, err
	}
	return badges, nil
}

func (s *Store) UpdateBadge(badge Badge) error {
	return s.db.Save(&badge).Error
}

// UpsertBadge applies a badge imported from the relay, keyed by
// (issuer, badge id). Only the newest event for that pair is authoritative,
// so an older CreatedAt never overwrites a newer row.
func (s *Store) UpsertBadge(badge Badge) error {
	existing, err := s.GetBadge(badge.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := s.CreateBadge(badge)
		return err
	}
	if existing.IssuerID != badge.IssuerID {
		return fmt.Errorf("badge %s belongs to another issuer", badge.ID)
	}
	if badge.EventCreatedAt < existing.EventCreatedAt {
		return nil
	}
	return s.db.Save(&badge).Error
}

// --- awards ---

// CreateAward enforces the one-award-per-claimant invariant. Both the direct
// message claim path and the relay import path go through here.
func (s *Store) CreateAward(award Award) (*Award, error) {
	exists, err := s.AwardExists(award.BadgeID, award.ClaimPubkey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAwardExists
	}
	if award.ID == "" {
		award.ID = freshID()
	}
	if err := s.db.Create(&award).Error; err != nil {
		return nil, fmt.Errorf("create award: %w", err)
	}
	return &award, nil
}

func (s *Store) AwardExists(badgeID string, claimPubkey library.Account) (bool, error) {
	var count int64
	err := s.db.Model(&Award{}).
		Where("badge_id = ? AND claim_pubkey = ?", badgeID, claimPubkey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) UpdateAward(award Award) error {
	return s.db.Save(&award).Error
}

func (s *Store) GetAwards(issuerID string) ([]Award, error) {
	var awards []Award
	if err := s.db.Find(&awards, "issuer_id = ?", issuerID).Error; err != nil {
		return nil, err
	}
	return awards, nil
}

// --- subscription cursors ---

// LastBadgeTimestamp is the max created_at seen across badge events, used as
// the "since" cursor when resubscribing. Zero when nothing was seen yet.
func (s *Store) LastBadgeTimestamp() (int64, error) {
	var ts int64
	err := s.db.Model(&Badge{}).
		Select("COALESCE(MAX(event_created_at), 0)").
		Scan(&ts).Error
	return ts, err
}

// LastAwardTimestamp is the award equivalent of LastBadgeTimestamp. It also
// serves as the direct message cursor.
func (s *Store) LastAwardTimestamp() (int64, error) {
	var ts int64
	err := s.db.Model(&Award{}).
		Select("COALESCE(MAX(event_created_at), 0)").
		Scan(&ts).Error
	return ts, err
}

package services

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milemoto/backend/internal/models"
	"github.com/milemoto/backend/pkg/logger"
	"github.com/milemoto/backend/pkg/utils"
	"gorm.io/gorm"
)

var (
	// ErrInvalidSession covers every unusable-token case that is not a
	// security signal: unknown, malformed, expired, or revoked by logout.
	ErrInvalidSession = errors.New("invalid session")
	// ErrTokenReused means a refresh token that was already rotated was
	// presented again. Treated as credential theft, not a normal failure.
	ErrTokenReused = errors.New("refresh token reuse detected")
)

// SessionService owns the refresh-token ledger. Tokens are single-use: every
// refresh revokes the presented session row and creates a successor, so a
// replayed token is always detectable.
type SessionService struct {
	DB         *gorm.DB
	RefreshTTL time.Duration
}

func NewSessionService(db *gorm.DB, refreshTTL time.Duration) *SessionService {
	return &SessionService{DB: db, RefreshTTL: refreshTTL}
}

// Issue creates a session row and returns it with the raw refresh token.
// The raw value embeds the session id so rotation can find the row with a
// primary-key lookup; only its digest is persisted.
func (s *SessionService) Issue(userID uuid.UUID, userAgent, ip string) (*models.Session, string, error) {
	secret, err := utils.GenerateRandomToken(32)
	if err != nil {
		return nil, "", err
	}

	session := models.Session{
		BaseModel: models.BaseModel{ID: uuid.New()},
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: time.Now().Add(s.RefreshTTL),
	}
	raw := session.ID.String() + "." + secret
	session.RefreshHash = utils.HashToken(raw)

	if err := s.DB.Create(&session).Error; err != nil {
		return nil, "", err
	}

	return &session, raw, nil
}

// Rotate validates the presented refresh token and atomically replaces its
// session with a successor. On replay of an already-rotated token it revokes
// the entire successor chain and returns ErrTokenReused.
func (s *SessionService) Rotate(raw, userAgent, ip string) (*models.Session, string, error) {
	current, err := s.lookup(raw)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	if current.RevokedAt != nil {
		if current.ReplacedBy != nil {
			// The token was valid once and has already been rotated:
			// someone is replaying it. Kill the whole lineage.
			if err := s.revokeChain(current); err != nil {
				logger.Error("session_chain_revoke_failed", err, map[string]interface{}{
					"session_id": current.ID.String(),
				})
			}
			return nil, "", ErrTokenReused
		}
		return nil, "", ErrInvalidSession
	}
	if now.After(current.ExpiresAt) {
		return nil, "", ErrInvalidSession
	}

	secret, err := utils.GenerateRandomToken(32)
	if err != nil {
		return nil, "", err
	}

	next := models.Session{
		BaseModel: models.BaseModel{ID: uuid.New()},
		UserID:    current.UserID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(s.RefreshTTL),
	}
	nextRaw := next.ID.String() + "." + secret
	next.RefreshHash = utils.HashToken(nextRaw)

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		// Compare-and-swap on revoked_at: if a concurrent refresh already
		// rotated this row, zero rows match and this request fails closed
		// instead of minting a second divergent session.
		result := tx.Model(&models.Session{}).
			Where("id = ? AND revoked_at IS NULL", current.ID).
			Updates(map[string]interface{}{
				"revoked_at":  now,
				"replaced_by": next.ID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInvalidSession
		}
		return tx.Create(&next).Error
	})
	if err != nil {
		return nil, "", err
	}

	return &next, nextRaw, nil
}

// RevokeByToken revokes the session matching the raw token. Used by logout;
// idempotent for already-revoked sessions.
func (s *SessionService) RevokeByToken(raw string) error {
	session, err := s.lookup(raw)
	if err != nil {
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}
	return s.revoke(session.ID)
}

// FindActiveByToken returns the session for a raw token only if it is
// currently usable.
func (s *SessionService) FindActiveByToken(raw string) (*models.Session, error) {
	session, err := s.lookup(raw)
	if err != nil {
		return nil, err
	}
	if !session.Active(time.Now()) {
		return nil, ErrInvalidSession
	}
	return session, nil
}

func (s *SessionService) ListActive(userID uuid.UUID) ([]models.Session, error) {
	var sessions []models.Session
	err := s.DB.
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// Revoke revokes a single session owned by userID.
func (s *SessionService) Revoke(sessionID, userID uuid.UUID) error {
	result := s.DB.Model(&models.Session{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", sessionID, userID).
		Update("revoked_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidSession
	}
	return nil
}

// RevokeAllForUser kills every active session. Password reset is a full
// trust-boundary reset, so it goes through here.
func (s *SessionService) RevokeAllForUser(userID uuid.UUID) error {
	return s.DB.Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
}

// RevokeOthers kills every active session except keep.
func (s *SessionService) RevokeOthers(userID, keep uuid.UUID) error {
	return s.DB.Model(&models.Session{}).
		Where("user_id = ? AND id <> ? AND revoked_at IS NULL", userID, keep).
		Update("revoked_at", time.Now()).Error
}

// lookup parses the session id out of the raw token and verifies the digest.
// Digest mismatch is indistinguishable from an unknown token on purpose.
func (s *SessionService) lookup(raw string) (*models.Session, error) {
	idPart, _, found := strings.Cut(raw, ".")
	if !found {
		return nil, ErrInvalidSession
	}
	sessionID, err := uuid.Parse(idPart)
	if err != nil {
		return nil, ErrInvalidSession
	}

	var session models.Session
	if err := s.DB.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, ErrInvalidSession
	}
	if session.RefreshHash != utils.HashToken(raw) {
		return nil, ErrInvalidSession
	}
	return &session, nil
}

// revokeChain follows replaced_by links from a replayed session and revokes
// every descendant, including the currently live one the attacker or the
// legitimate client holds. Nobody keeps a session minted from a stolen token.
func (s *SessionService) revokeChain(start *models.Session) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		cursor := start
		for cursor.ReplacedBy != nil {
			var next models.Session
			if err := tx.First(&next, "id = ?", *cursor.ReplacedBy).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}
			if next.RevokedAt == nil {
				if err := tx.Model(&next).Update("revoked_at", now).Error; err != nil {
					return err
				}
			}
			cursor = &next
		}
		return nil
	})
}

func (s *SessionService) revoke(sessionID uuid.UUID) error {
	return s.DB.Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", time.Now()).Error
}

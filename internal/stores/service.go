package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pinLength = 6

var (
	// ErrStoreNotFound indicates no store matches the identifier or name.
	ErrStoreNotFound = errors.New("stores: store not found")
	// ErrInvalidName indicates an empty store name.
	ErrInvalidName = errors.New("stores: store name required")
	// ErrInvalidPIN indicates a PIN that is not exactly six digits.
	ErrInvalidPIN = errors.New("stores: pin must be exactly 6 digits")
	// ErrInvalidCredentials indicates an unknown store or a wrong PIN.
	ErrInvalidCredentials = errors.New("stores: invalid store or pin")
	// ErrCredentialsNotConfigured indicates a store without a PIN.
	ErrCredentialsNotConfigured = errors.New("stores: store authentication not configured")
)

// ServiceConfig describes the dependencies required for store management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	HashCost int
	Logger   *zap.Logger
}

// Service manages stores and their login PINs.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	hashCost int
	logger   *zap.Logger
}

// NewService constructs the store service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("stores: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	if hashCost < bcrypt.MinCost || hashCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("stores: hash cost %d out of range", hashCost)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		hashCost: hashCost,
		logger:   logger,
	}, nil
}

// Create registers a store under a unique name.
func (s *Service) Create(ctx context.Context, name string) (Store, error) {
	storeName := normalize(name)
	if storeName == "" {
		return Store{}, ErrInvalidName
	}
	store := Store{
		ID:        uuid.NewString(),
		Name:      storeName,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&store).Error; err != nil {
		return Store{}, fmt.Errorf("stores: create %q: %w", storeName, err)
	}
	return store, nil
}

// List returns every store ordered by name.
func (s *Service) List(ctx context.Context) ([]Store, error) {
	var stores []Store
	if err := s.db.WithContext(ctx).Order("name").Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("stores: list: %w", err)
	}
	return stores, nil
}

// Get loads a store by identifier.
func (s *Service) Get(ctx context.Context, storeID string) (Store, error) {
	return s.take(ctx, "id = ?", normalize(storeID))
}

// GetByName loads a store by its login name.
func (s *Service) GetByName(ctx context.Context, name string) (Store, error) {
	return s.take(ctx, "name = ?", normalize(name))
}

func (s *Service) take(ctx context.Context, condition, value string) (Store, error) {
	if value == "" {
		return Store{}, ErrStoreNotFound
	}
	var store Store
	err := s.db.WithContext(ctx).Where(condition, value).Take(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Store{}, ErrStoreNotFound
	}
	if err != nil {
		return Store{}, err
	}
	return store, nil
}

// SetPIN replaces the store's login PIN and returns the store it belongs to.
func (s *Service) SetPIN(ctx context.Context, storeID, pin string) (Store, error) {
	if !validPIN(pin) {
		return Store{}, ErrInvalidPIN
	}
	store, err := s.Get(ctx, storeID)
	if err != nil {
		return Store{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.hashCost)
	if err != nil {
		return Store{}, fmt.Errorf("stores: hash pin: %w", err)
	}
	credential := Credential{
		StoreID:   store.ID,
		PINHash:   string(hash),
		UpdatedAt: s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"pin_hash", "updated_at"}),
	}).Create(&credential).Error
	if err != nil {
		return Store{}, fmt.Errorf("stores: save pin: %w", err)
	}
	return store, nil
}

// Authenticate checks a store name and PIN pair. Unknown stores and wrong PINs
// both return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, name, pin string) (Store, error) {
	store, err := s.GetByName(ctx, name)
	if errors.Is(err, ErrStoreNotFound) {
		return Store{}, ErrInvalidCredentials
	}
	if err != nil {
		return Store{}, err
	}

	var credential Credential
	err = s.db.WithContext(ctx).Where("store_id = ?", store.ID).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("store login without configured pin", zap.String("store_id", store.ID))
		return Store{}, ErrCredentialsNotConfigured
	}
	if err != nil {
		return Store{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(credential.PINHash), []byte(pin)); err != nil {
		return Store{}, ErrInvalidCredentials
	}
	return store, nil
}

func validPIN(pin string) bool {
	if len(pin) != pinLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

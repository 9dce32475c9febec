package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownUser        = errors.New("unknown user")
	ErrGoogleDisabled     = errors.New("google sign-in is not configured")
)

type User struct {
	UID          string
	Email        string
	DisplayName  string
	PasswordHash string
}

// Directory looks up email/password accounts.
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// GuestStore persists the guest fallback identity locally.
type GuestStore interface {
	LoadGuest(ctx context.Context) (*domain.Identity, error)
	SaveGuest(ctx context.Context, guest domain.Identity) error
}

// TokenValidator verifies a Google ID token for an audience.
type TokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

type Params struct {
	Directory      Directory
	Guests         GuestStore
	Google         TokenValidator
	GoogleClientID string
	Logger         *logger.Logger
}

// Service authenticates cashiers and tracks the terminal's current identity.
// Authentication is a capability: it yields an identity or nothing.
type Service struct {
	dir      Directory
	guests   GuestStore
	google   TokenValidator
	audience string
	logg     *logger.Logger

	mu      sync.RWMutex
	current *domain.Identity
}

func New(p Params) (*Service, error) {
	if p.Directory == nil {
		return nil, fmt.Errorf("directory required")
	}
	if p.Guests == nil {
		return nil, fmt.Errorf("guest store required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		dir:      p.Directory,
		guests:   p.Guests,
		google:   p.Google,
		audience: strings.TrimSpace(p.GoogleClientID),
		logg:     logg,
	}, nil
}

// NewGoogleValidator builds the production ID token validator.
func NewGoogleValidator(ctx context.Context) (TokenValidator, error) {
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("create id token validator: %w", err)
	}
	return v, nil
}

// Current returns the signed-in identity, or nil when nobody is signed in.
func (s *Service) Current() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cur := *s.current
	return &cur
}

func (s *Service) setCurrent(id domain.Identity) {
	s.mu.Lock()
	s.current = &id
	s.mu.Unlock()
}

func (s *Service) Logout() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Guest returns the persisted guest identity, creating it on first use.
func (s *Service) Guest(ctx context.Context) (domain.Identity, error) {
	guest, err := s.guests.LoadGuest(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if guest == nil {
		guest = &domain.Identity{
			UID:         "guest-" + uuid.NewString(),
			DisplayName: "Guest",
			Provider:    domain.ProviderGuest,
			IsGuest:     true,
		}
		if err := s.guests.SaveGuest(ctx, *guest); err != nil {
			return domain.Identity{}, err
		}
	}
	s.setCurrent(*guest)
	return *guest, nil
}

// LoginWithEmail returns ErrInvalidCredentials for an unknown email or a
// wrong password alike.
func (s *Service) LoginWithEmail(ctx context.Context, email string, password string) (domain.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.dir.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrUnknownUser) {
		return domain.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.Identity{}, ErrInvalidCredentials
	}

	id := domain.Identity{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Provider:    domain.ProviderPassword,
	}
	s.setCurrent(id)
	return id, nil
}

func (s *Service) LoginWithGoogle(ctx context.Context, rawToken string) (domain.Identity, error) {
	if s.google == nil || s.audience == "" {
		return domain.Identity{}, ErrGoogleDisabled
	}
	payload, err := s.google.Validate(ctx, rawToken, s.audience)
	if err != nil {
		s.logg.Warn(ctx, "google id token rejected", err)
		return domain.Identity{}, ErrInvalidCredentials
	}

	id := domain.Identity{
		UID:         payload.Subject,
		Email:       claimString(payload.Claims, "email"),
		DisplayName: claimString(payload.Claims, "name"),
		Provider:    domain.ProviderGoogle,
	}
	s.setCurrent(id)
	return id, nil
}

type ctxKey struct{}

// NewContext attaches the identity a request was authenticated as.
func NewContext(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(domain.Identity)
	return id, ok && id.UID != ""
}

// Attribution resolves who a checkout is credited to: the identity carried by
// ctx, then the terminal's signed-in identity, then the guest fallback.
func (s *Service) Attribution(ctx context.Context) (domain.Identity, error) {
	if id, ok := FromContext(ctx); ok {
		return id, nil
	}
	if cur := s.Current(); cur != nil {
		return *cur, nil
	}
	return s.Guest(ctx)
}

func claimString(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// MemoryDirectory is an in-process account list, seeded at startup.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byEmail: map[string]User{}}
}

// NewUser builds an account with a bcrypt hash of password.
func NewUser(email string, password string, displayName string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return User{}, fmt.Errorf("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return User{
		UID:          "user-" + uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}, nil
}

func (d *MemoryDirectory) AddUser(email string, password string, displayName string) (User, error) {
	user, err := NewUser(email, password, displayName)
	if err != nil {
		return User{}, err
	}
	d.mu.Lock()
	d.byEmail[user.Email] = user
	d.mu.Unlock()
	return user, nil
}

func (d *MemoryDirectory) FindUserByEmail(_ context.Context, email string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrUnknownUser
	}
	return &user, nil
}

package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"loandesk/models"
	"loandesk/repository"
)

// ErrInvalidCredentials возвращается при неверном email или пароле
var ErrInvalidCredentials = errors.New("invalid credentials")

// CreateUserRequest представляет данные для регистрации клиента
type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=8,max=72,password"`
}

// UserService регистрирует и аутентифицирует пользователей
type UserService struct {
	store     repository.Store
	ids       IDGenerator
	now       Clock
	validator *validator.Validate
	logger    *zap.Logger
	cost      int
}

// NewUserService создает новый экземпляр UserService
func NewUserService(store repository.Store, ids IDGenerator, now Clock, logger *zap.Logger) *UserService {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		store:     store,
		ids:       ids,
		now:       now,
		validator: NewValidator(),
		logger:    logger,
		cost:      bcrypt.DefaultCost,
	}
}

// WithBcryptCost меняет стоимость хеширования (в тестах - bcrypt.MinCost)
func (s *UserService) WithBcryptCost(cost int) *UserService {
	s.cost = cost
	return s
}

// Register создает клиента. Email сравнивается без учета регистра и пробелов.
func (s *UserService) Register(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateStruct(s.validator, req); err != nil {
		return nil, err
	}
	return s.create(ctx, req.Name, req.Email, req.Password, models.RoleCustomer)
}

// Authenticate проверяет email и пароль
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// FindByID ищет пользователя по ID
func (s *UserService) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return user, nil
}

// SeedAdmin создает администратора, если его еще нет. Повторный вызов ничего не меняет.
func (s *UserService) SeedAdmin(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, &ValidationError{Message: "admin email and password are required"}
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, err
	}

	user, err := s.create(ctx, "Administrator", email, password, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin user seeded", zap.String("email", email))
	return user, nil
}

func (s *UserService) create(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	// Проверяем, существует ли пользователь с таким email
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, &ConflictError{Message: "user with this email already exists"}
	} else if !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, err
	}

	// Хешируем пароль
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           s.ids.NewID(),
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: string(hashedPassword),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, &ConflictError{Message: "user with this email already exists"}
		}
		return nil, err
	}
	return user, nil
}

package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"loandesk/middleware"
	"loandesk/models"
	"loandesk/services"
	"loandesk/utils"
)

type AuthController struct {
	users     *services.UserService
	jwtSecret []byte
	jwtTTL    time.Duration
	metrics   *utils.Metrics
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AuthResponse struct {
	Token Token        `json:"token"`
	User  *models.User `json:"user"`
}

func NewAuthController(users *services.UserService, jwtSecret []byte, jwtTTL time.Duration, metrics *utils.Metrics) *AuthController {
	return &AuthController{
		users:     users,
		jwtSecret: jwtSecret,
		jwtTTL:    jwtTTL,
		metrics:   metrics,
	}
}

// RegisterRoutes регистрирует публичные маршруты аутентификации
func (ac *AuthController) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/signUp", ac.SignUp)
		auth.POST("/signIn", ac.SignIn)
	}
}

// SignUp регистрирует клиента и сразу выдает токен
// POST /api/auth/signUp
func (ac *AuthController) SignUp(c *gin.Context) {
	var req services.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := ac.users.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}

	ac.respondWithToken(c, http.StatusCreated, user)
}

// SignIn обрабатывает вход пользователя
// POST /api/auth/signIn
func (ac *AuthController) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := ac.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}

	ac.respondWithToken(c, http.StatusOK, user)
}

// Me возвращает текущего пользователя
// GET /api/me
func (ac *AuthController) Me(c *gin.Context) {
	actor := middleware.CurrentActor(c)
	user, err := ac.users.FindByID(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (ac *AuthController) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, expiresAt, err := middleware.GenerateToken(ac.jwtSecret, user, ac.jwtTTL, time.Now())
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}

	c.JSON(status, AuthResponse{
		Token: Token{Token: token, ExpiresAt: expiresAt},
		User:  user,
	})
}

package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"loandesk/middleware"
	"loandesk/models"
	"loandesk/services"
	"loandesk/utils"
)

// CatalogController обрабатывает запросы по продуктам и заемщикам
type CatalogController struct {
	products  *services.ProductService
	borrowers *services.BorrowerService
	rates     services.RatesProvider
	metrics   *utils.Metrics
}

// NewCatalogController создает новый экземпляр CatalogController
func NewCatalogController(products *services.ProductService, borrowers *services.BorrowerService, rates services.RatesProvider, metrics *utils.Metrics) *CatalogController {
	return &CatalogController{
		products:  products,
		borrowers: borrowers,
		rates:     rates,
		metrics:   metrics,
	}
}

func (cc *CatalogController) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/products", cc.GetProducts)
	r.POST("/products", middleware.RequireRole(models.RoleAdmin), cc.CreateProduct)
	r.GET("/borrowers", cc.GetBorrowers)
	r.POST("/borrowers", cc.CreateBorrower)
	r.GET("/fx/latest", cc.GetLatestRates)
}

// CreateProduct создает кредитный продукт
// POST /api/products
func (cc *CatalogController) CreateProduct(c *gin.Context) {
	var dto services.CreateProductDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err)
		return
	}

	product, err := cc.products.Create(c.Request.Context(), middleware.CurrentActor(c), dto)
	if err != nil {
		respondError(c, cc.metrics, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// GetProducts возвращает каталог продуктов
// GET /api/products
func (cc *CatalogController) GetProducts(c *gin.Context) {
	products, err := cc.products.List(c.Request.Context())
	if err != nil {
		respondError(c, cc.metrics, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// CreateBorrower создает заемщика
// POST /api/borrowers
func (cc *CatalogController) CreateBorrower(c *gin.Context) {
	var dto services.CreateBorrowerDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		badRequest(c, err)
		return
	}

	borrower, err := cc.borrowers.Create(c.Request.Context(), middleware.CurrentActor(c), dto)
	if err != nil {
		respondError(c, cc.metrics, err)
		return
	}
	c.JSON(http.StatusCreated, borrower)
}

// GetBorrowers возвращает заемщиков
// GET /api/borrowers
func (cc *CatalogController) GetBorrowers(c *gin.Context) {
	borrowers, err := cc.borrowers.List(c.Request.Context(), middleware.CurrentActor(c))
	if err != nil {
		respondError(c, cc.metrics, err)
		return
	}
	c.JSON(http.StatusOK, borrowers)
}

// GetLatestRates возвращает текущие курсы к базовой валюте (по умолчанию USD)
// GET /api/fx/latest?base=
func (cc *CatalogController) GetLatestRates(c *gin.Context) {
	base, err := services.NormalizeCurrency("base", c.DefaultQuery("base", "USD"))
	if err != nil {
		respondError(c, cc.metrics, err)
		return
	}
	if cc.rates == nil {
		respondError(c, cc.metrics, &services.ExternalServiceError{Service: "fx", Err: errors.New("rates provider not configured")})
		return
	}

	rates, err := cc.rates.LatestRates(c.Request.Context(), base)
	if err != nil {
		respondError(c, cc.metrics, err)
		return
	}
	c.JSON(http.StatusOK, rates)
}

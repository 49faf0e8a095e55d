package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"loandesk/models"
)

// DateLayout - формат даты курса (YYYY-MM-DD)
const DateLayout = "2006-01-02"

// Conversion - результат пересчета суммы
type Conversion struct {
	Result decimal.Decimal
	Rate   decimal.Decimal
	Date   string // пусто, если курс текущий
}

// Converter пересчитывает суммы между валютами.
// asOf == nil означает текущий курс. При from == to сеть не используется.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf *time.Time) (*Conversion, error)
}

// identity возвращает пересчет без изменения суммы
func identity(amount decimal.Decimal, asOf *time.Time) *Conversion {
	return &Conversion{Result: amount, Rate: decimal.NewFromInt(1), Date: formatDate(asOf)}
}

func formatDate(asOf *time.Time) string {
	if asOf == nil {
		return ""
	}
	return asOf.UTC().Format(DateLayout)
}

// fxMeta собирает метаданные пересчета для проводки
func fxMeta(from, to string, amountSource decimal.Decimal, c *Conversion) *models.FXConversion {
	return &models.FXConversion{
		From:         from,
		To:           to,
		Rate:         c.Rate,
		Date:         c.Date,
		AmountSource: amountSource,
	}
}

// newBreaker создает circuit breaker для внешнего сервиса курсов
func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("fx circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// ExchangeRateHostConverter получает курсы из API exchangerate.host
type ExchangeRateHostConverter struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewExchangeRateHostConverter создает конвертер; baseURL без завершающего "/"
func NewExchangeRateHostConverter(baseURL string, client *http.Client, logger *zap.Logger) *ExchangeRateHostConverter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeRateHostConverter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: newBreaker("exchangerate.host", logger),
		logger:  logger,
	}
}

type convertResponse struct {
	Success *bool            `json:"success"`
	Result  *decimal.Decimal `json:"result"`
	Info    struct {
		Rate *decimal.Decimal `json:"rate"`
	} `json:"info"`
	Error json.RawMessage `json:"error"`
}

// Convert выполняет GET {base}/convert?from=&to=&amount=[&date=]
func (c *ExchangeRateHostConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf *time.Time) (*Conversion, error) {
	if from == to {
		return identity(amount, asOf), nil
	}

	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	q.Set("amount", amount.String())
	date := formatDate(asOf)
	if date != "" {
		q.Set("date", date)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, c.baseURL+"/convert?"+q.Encode())
	})
	if err != nil {
		c.logger.Error("fx conversion failed",
			zap.String("from", from),
			zap.String("to", to),
			zap.String("date", date),
			zap.Error(err),
		)
		return nil, &ExternalServiceError{Service: "exchangerate.host", Err: err}
	}

	body := res.(*convertResponse)
	if body.Success != nil && !*body.Success {
		return nil, &ExternalServiceError{Service: "exchangerate.host", Err: fmt.Errorf("conversion rejected: %s", string(body.Error))}
	}
	if body.Info.Rate == nil {
		return nil, &ExternalServiceError{Service: "exchangerate.host", Err: errors.New("rate missing in response")}
	}

	result := amount.Mul(*body.Info.Rate)
	if body.Result != nil {
		result = *body.Result
	}
	return &Conversion{Result: result, Rate: *body.Info.Rate, Date: date}, nil
}

func (c *ExchangeRateHostConverter) fetch(ctx context.Context, endpoint string) (*convertResponse, error) {
	var body convertResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (c *ExchangeRateHostConverter) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// LatestRates - текущие курсы: сколько единиц валюты дают за одну единицу Base
type LatestRates struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date,omitempty"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// RatesProvider отдает таблицу текущих курсов относительно базовой валюты
type RatesProvider interface {
	LatestRates(ctx context.Context, base string) (*LatestRates, error)
}

type latestResponse struct {
	Success   *bool                      `json:"success"`
	Date      string                     `json:"date"`
	Timestamp int64                      `json:"timestamp"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	Error     json.RawMessage            `json:"error"`
}

// LatestRates выполняет GET {base}/latest?base=
func (c *ExchangeRateHostConverter) LatestRates(ctx context.Context, base string) (*LatestRates, error) {
	endpoint := c.baseURL + "/latest?" + url.Values{"base": {base}}.Encode()

	res, err := c.breaker.Execute(func() (interface{}, error) {
		var body latestResponse
		if err := c.getJSON(ctx, endpoint, &body); err != nil {
			return nil, err
		}
		return &body, nil
	})
	if err != nil {
		c.logger.Error("latest rates request failed", zap.String("base", base), zap.Error(err))
		return nil, &ExternalServiceError{Service: "exchangerate.host", Err: err}
	}

	body := res.(*latestResponse)
	if body.Success != nil && !*body.Success {
		return nil, &ExternalServiceError{Service: "exchangerate.host", Err: fmt.Errorf("latest rates rejected: %s", string(body.Error))}
	}

	date := body.Date
	if date == "" && body.Timestamp > 0 {
		date = time.Unix(body.Timestamp, 0).UTC().Format(DateLayout)
	}
	rates := body.Rates
	if rates == nil {
		rates = make(map[string]decimal.Decimal)
	}
	return &LatestRates{Base: base, Date: date, Rates: rates}, nil
}

// convertIfNeeded пересчитывает сумму только при разных валютах
func convertIfNeeded(ctx context.Context, fx Converter, amount decimal.Decimal, from, to string, asOf time.Time) (*Conversion, bool, error) {
	if from == to {
		return identity(amount, &asOf), false, nil
	}
	if fx == nil {
		return nil, false, &ExternalServiceError{Service: "fx", Err: errors.New("converter not configured")}
	}
	conv, err := fx.Convert(ctx, amount, from, to, &asOf)
	if err != nil {
		var ext *ExternalServiceError
		if errors.As(err, &ext) {
			return nil, false, err
		}
		return nil, false, &ExternalServiceError{Service: "fx", Err: err}
	}
	return conv, true, nil
}

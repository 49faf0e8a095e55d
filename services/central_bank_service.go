package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// rubCode - базовая валюта котировок ЦБ РФ
const rubCode = "RUB"

// CentralBankConverter пересчитывает суммы по ежедневным курсам ЦБ РФ (XML_daily.asp).
// Курсы котируются к рублю, кросс-курс считается через рубль.
type CentralBankConverter struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewCentralBankConverter создает конвертер; baseURL вида https://www.cbr.ru/scripts
func NewCentralBankConverter(baseURL string, client *http.Client, logger *zap.Logger) *CentralBankConverter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CentralBankConverter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: newBreaker("cbr.ru", logger),
		logger:  logger,
	}
}

// Convert получает котировки на дату и считает кросс-курс from/to
func (c *CentralBankConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf *time.Time) (*Conversion, error) {
	if from == to {
		return identity(amount, asOf), nil
	}

	endpoint := c.baseURL + "/XML_daily.asp"
	if asOf != nil {
		endpoint += "?date_req=" + asOf.UTC().Format("02/01/2006")
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchRates(ctx, endpoint)
	})
	if err != nil {
		c.logger.Error("cbr rates request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, &ExternalServiceError{Service: "cbr.ru", Err: err}
	}
	rates := res.(*cbrRates)

	fromRub, ok := rates.rubPerUnit(from)
	if !ok {
		return nil, &ExternalServiceError{Service: "cbr.ru", Err: fmt.Errorf("no quote for %s", from)}
	}
	toRub, ok := rates.rubPerUnit(to)
	if !ok {
		return nil, &ExternalServiceError{Service: "cbr.ru", Err: fmt.Errorf("no quote for %s", to)}
	}

	rate := fromRub.DivRound(toRub, 6)
	return &Conversion{
		Result: amount.Mul(fromRub).DivRound(toRub, 6),
		Rate:   rate,
		Date:   rates.date,
	}, nil
}

// LatestRates строит таблицу кросс-курсов к base по последним котировкам ЦБ
func (c *CentralBankConverter) LatestRates(ctx context.Context, base string) (*LatestRates, error) {
	endpoint := c.baseURL + "/XML_daily.asp"

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchRates(ctx, endpoint)
	})
	if err != nil {
		c.logger.Error("cbr rates request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, &ExternalServiceError{Service: "cbr.ru", Err: err}
	}
	rates := res.(*cbrRates)

	baseRub, ok := rates.rubPerUnit(base)
	if !ok {
		return nil, &ExternalServiceError{Service: "cbr.ru", Err: fmt.Errorf("no quote for %s", base)}
	}

	out := &LatestRates{Base: base, Date: rates.date, Rates: make(map[string]decimal.Decimal, len(rates.quote)+1)}
	out.Rates[rubCode] = baseRub.Round(6)
	for code, rub := range rates.quote {
		out.Rates[code] = baseRub.DivRound(rub, 6)
	}
	return out, nil
}

// cbrRates - котировки за один день: рублей за единицу валюты
type cbrRates struct {
	date  string
	quote map[string]decimal.Decimal
}

func (r *cbrRates) rubPerUnit(code string) (decimal.Decimal, bool) {
	if code == rubCode {
		return decimal.NewFromInt(1), true
	}
	v, ok := r.quote[code]
	return v, ok
}

func (c *CentralBankConverter) fetchRates(ctx context.Context, endpoint string) (*cbrRates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return parseCBRRates(resp.Body)
}

// parseCBRRates разбирает документ ValCurs.
// Значения записаны с десятичной запятой, Value указан за Nominal единиц.
func parseCBRRates(r io.Reader) (*cbrRates, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(label, "windows-1251") {
			return charmap.Windows1251.NewDecoder().Reader(input), nil
		}
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("parse rates xml: %w", err)
	}

	root := doc.SelectElement("ValCurs")
	if root == nil {
		return nil, errors.New("ValCurs element missing")
	}

	rates := &cbrRates{quote: make(map[string]decimal.Decimal)}
	if d, err := time.Parse("02.01.2006", root.SelectAttrValue("Date", "")); err == nil {
		rates.date = d.Format(DateLayout)
	}

	for _, v := range root.SelectElements("Valute") {
		code := strings.TrimSpace(elementText(v, "CharCode"))
		value, err := parseCommaDecimal(elementText(v, "Value"))
		if err != nil || code == "" {
			continue
		}
		nominal, err := parseCommaDecimal(elementText(v, "Nominal"))
		if err != nil || !nominal.IsPositive() {
			nominal = decimal.NewFromInt(1)
		}
		rates.quote[code] = value.DivRound(nominal, 8)
	}

	if len(rates.quote) == 0 {
		return nil, errors.New("no quotes in rates xml")
	}
	return rates, nil
}

func elementText(e *etree.Element, tag string) string {
	child := e.SelectElement(tag)
	if child == nil {
		return ""
	}
	return child.Text()
}

func parseCommaDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"go.uber.org/zap"
)

func TestExchangeRateHostConvert(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convert", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"info":{"rate":0.92},"result":920.5}`)
	}))
	defer srv.Close()

	c := NewExchangeRateHostConverter(srv.URL+"/", srv.Client(), zap.NewNop())
	asOf := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(1000), "USD", "EUR", &asOf)
	require.NoError(t, err)
	assert.Equal(t, "920.5", conv.Result.String())
	assert.Equal(t, "0.92", conv.Rate.String())
	assert.Equal(t, "2024-03-01", conv.Date)
	assert.Equal(t, "amount=1000&date=2024-03-01&from=USD&to=EUR", gotQuery)
}

func TestExchangeRateHostComputesMissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("date"))
		fmt.Fprint(w, `{"info":{"rate":1.5}}`)
	}))
	defer srv.Close()

	c := NewExchangeRateHostConverter(srv.URL, srv.Client(), nil)
	conv, err := c.Convert(context.Background(), decimal.NewFromInt(10), "EUR", "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, "15", conv.Result.String())
	assert.Empty(t, conv.Date)
}

func TestExchangeRateHostErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"not success", http.StatusOK, `{"success":false,"error":{"code":101}}`},
		{"no rate", http.StatusOK, `{"success":true}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewExchangeRateHostConverter(srv.URL, srv.Client(), zap.NewNop())
			_, err := c.Convert(context.Background(), decimal.NewFromInt(1), "USD", "EUR", nil)
			var ext *ExternalServiceError
			require.ErrorAs(t, err, &ext)
			assert.Equal(t, "exchangerate.host", ext.Service)
		})
	}
}

func TestExchangeRateHostBreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewExchangeRateHostConverter(srv.URL, srv.Client(), zap.NewNop())
	for i := 0; i < 8; i++ {
		_, err := c.Convert(context.Background(), decimal.NewFromInt(1), "USD", "EUR", nil)
		require.Error(t, err)
	}
	// После пяти ошибок подряд запросы не уходят в сеть
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func TestConvertersSkipSameCurrency(t *testing.T) {
	asOf := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range []Converter{
		NewExchangeRateHostConverter("http://127.0.0.1:0", nil, nil),
		NewCentralBankConverter("http://127.0.0.1:0", nil, nil),
	} {
		conv, err := c.Convert(context.Background(), decimal.NewFromInt(42), "USD", "USD", &asOf)
		require.NoError(t, err)
		assert.Equal(t, "42", conv.Result.String())
		assert.Equal(t, "1", conv.Rate.String())
	}
}

func TestConvertIfNeeded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	conv, converted, err := convertIfNeeded(ctx, nil, decimal.NewFromInt(5), "USD", "USD", now)
	require.NoError(t, err)
	assert.False(t, converted)
	assert.Equal(t, "2024-03-01", conv.Date)

	_, _, err = convertIfNeeded(ctx, nil, decimal.NewFromInt(5), "USD", "EUR", now)
	assert.IsType(t, &ExternalServiceError{}, err)

	m := &mockConverter{}
	m.On("Convert", "5", "USD", "EUR").Return(nil, errors.New("boom"))
	_, _, err = convertIfNeeded(ctx, m, decimal.NewFromInt(5), "USD", "EUR", now)
	var ext *ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "fx", ext.Service)
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

const cbrDaily = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="01.03.2024" name="Foreign Currency Market">
  <Valute ID="R01235">
    <NumCode>840</NumCode>
    <CharCode>USD</CharCode>
    <Nominal>1</Nominal>
    <Name>Доллар США</Name>
    <Value>91,2345</Value>
  </Valute>
  <Valute ID="R01239">
    <NumCode>978</NumCode>
    <CharCode>EUR</CharCode>
    <Nominal>1</Nominal>
    <Name>Евро</Name>
    <Value>98,7654</Value>
  </Valute>
  <Valute ID="R01335">
    <NumCode>398</NumCode>
    <CharCode>KZT</CharCode>
    <Nominal>100</Nominal>
    <Name>Казахстанских тенге</Name>
    <Value>20,1500</Value>
  </Valute>
</ValCurs>`

func cbrBody(t *testing.T) []byte {
	t.Helper()
	encoded, err := charmap.Windows1251.NewEncoder().String(cbrDaily)
	require.NoError(t, err)
	return []byte(encoded)
}

func TestParseCBRRates(t *testing.T) {
	rates, err := parseCBRRates(strings.NewReader(string(cbrBody(t))))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", rates.date)

	usd, ok := rates.rubPerUnit("USD")
	require.True(t, ok)
	assert.Equal(t, "91.2345", usd.String())

	kzt, ok := rates.rubPerUnit("KZT")
	require.True(t, ok)
	assert.Equal(t, "0.2015", kzt.String())

	rub, ok := rates.rubPerUnit("RUB")
	require.True(t, ok)
	assert.Equal(t, "1", rub.String())

	_, ok = rates.rubPerUnit("GBP")
	assert.False(t, ok)

	_, err = parseCBRRates(strings.NewReader(`<Other/>`))
	assert.Error(t, err)
	_, err = parseCBRRates(strings.NewReader(`<ValCurs Date="01.03.2024"></ValCurs>`))
	assert.Error(t, err)
}

func TestCentralBankConvert(t *testing.T) {
	var gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/XML_daily.asp", r.URL.Path)
		gotDate = r.URL.Query().Get("date_req")
		w.Header().Set("Content-Type", "application/xml; charset=windows-1251")
		_, _ = w.Write(cbrBody(t))
	}))
	defer srv.Close()

	c := NewCentralBankConverter(srv.URL, srv.Client(), zap.NewNop())
	asOf := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(100), "USD", "RUB", &asOf)
	require.NoError(t, err)
	assert.Equal(t, "01/03/2024", gotDate)
	assert.Equal(t, "9123.45", conv.Result.String())
	assert.Equal(t, "2024-03-01", conv.Date)

	conv, err = c.Convert(context.Background(), decimal.NewFromInt(100), "USD", "EUR", &asOf)
	require.NoError(t, err)
	assert.Equal(t, "0.92375", conv.Rate.String())
	assert.Equal(t, "92.374961", conv.Result.String())

	_, err = c.Convert(context.Background(), decimal.NewFromInt(1), "USD", "GBP", &asOf)
	assert.IsType(t, &ExternalServiceError{}, err)
}

type countingConverter struct {
	calls int
	rate  decimal.Decimal
	err   error
}

func (c *countingConverter) Convert(_ context.Context, amount decimal.Decimal, from, to string, asOf *time.Time) (*Conversion, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &Conversion{Result: amount.Mul(c.rate), Rate: c.rate, Date: formatDate(asOf)}, nil
}

func TestCachedConverter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingConverter{rate: decimal.RequireFromString("0.9")}
	c := NewCachedConverter(next, client, time.Hour, zap.NewNop())

	ctx := context.Background()
	asOf := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	conv, err := c.Convert(ctx, decimal.NewFromInt(100), "USD", "EUR", &asOf)
	require.NoError(t, err)
	assert.Equal(t, "90", conv.Result.String())
	assert.Equal(t, 1, next.calls)

	cached, err := mr.Get(rateCacheKey("USD", "EUR", "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, "0.9", cached)

	// Другая сумма на ту же дату берет курс из кэша
	conv, err = c.Convert(ctx, decimal.NewFromInt(200), "USD", "EUR", &asOf)
	require.NoError(t, err)
	assert.Equal(t, "180", conv.Result.String())
	assert.Equal(t, 1, next.calls)

	// Текущий курс не кэшируется
	_, err = c.Convert(ctx, decimal.NewFromInt(1), "USD", "EUR", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	// Запись истекает по ttl
	mr.FastForward(2 * time.Hour)
	_, err = c.Convert(ctx, decimal.NewFromInt(1), "USD", "EUR", &asOf)
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestCachedConverterFallsThroughWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	next := &countingConverter{rate: decimal.RequireFromString("2")}
	c := NewCachedConverter(next, client, time.Hour, zap.NewNop())
	asOf := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(3), "EUR", "USD", &asOf)
	require.NoError(t, err)
	assert.Equal(t, "6", conv.Result.String())
	assert.Equal(t, 1, next.calls)

	next.err = &ExternalServiceError{Service: "fx", Err: errors.New("down")}
	_, err = c.Convert(context.Background(), decimal.NewFromInt(3), "EUR", "USD", &asOf)
	assert.IsType(t, &ExternalServiceError{}, err)
}

func TestExchangeRateHostLatestRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		assert.Equal(t, "EUR", r.URL.Query().Get("base"))
		fmt.Fprint(w, `{"success":true,"timestamp":1709251200,"rates":{"USD":1.08,"EUR":1}}`)
	}))
	defer srv.Close()

	c := NewExchangeRateHostConverter(srv.URL, srv.Client(), zap.NewNop())
	latest, err := c.LatestRates(context.Background(), "EUR")
	require.NoError(t, err)
	assert.Equal(t, "EUR", latest.Base)
	assert.Equal(t, "2024-03-01", latest.Date)
	assert.Equal(t, "1.08", latest.Rates["USD"].String())
	assert.Len(t, latest.Rates, 2)
}

func TestExchangeRateHostLatestRatesErrors(t *testing.T) {
	for _, body := range []string{`{"success":false}`, `not json`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		c := NewExchangeRateHostConverter(srv.URL, srv.Client(), zap.NewNop())
		_, err := c.LatestRates(context.Background(), "USD")
		assert.IsType(t, &ExternalServiceError{}, err, body)
		srv.Close()
	}
}

func TestCentralBankLatestRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("date_req"))
		_, _ = w.Write(cbrBody(t))
	}))
	defer srv.Close()

	c := NewCentralBankConverter(srv.URL, srv.Client(), zap.NewNop())
	latest, err := c.LatestRates(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", latest.Date)
	assert.Equal(t, "1", latest.Rates["USD"].String())
	assert.Equal(t, "0.92375", latest.Rates["EUR"].String())
	assert.Equal(t, "452.776675", latest.Rates["KZT"].String())
	assert.Equal(t, "91.2345", latest.Rates["RUB"].String())

	_, err = c.LatestRates(context.Background(), "GBP")
	assert.IsType(t, &ExternalServiceError{}, err)
}

func TestCachedConverterDelegatesLatestRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"date":"2024-03-01","rates":{"EUR":0.9}}`)
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cached := NewCachedConverter(NewExchangeRateHostConverter(srv.URL, srv.Client(), nil), client, time.Hour, nil)

	latest, err := cached.LatestRates(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.9", latest.Rates["EUR"].String())
	assert.Empty(t, mr.Keys())

	_, err = NewCachedConverter(&countingConverter{}, client, time.Hour, nil).LatestRates(context.Background(), "USD")
	assert.IsType(t, &ExternalServiceError{}, err)
}

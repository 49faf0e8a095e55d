package utils

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Metrics содержит метрики приложения
type Metrics struct {
	mu sync.RWMutex

	// Метрики запросов
	TotalRequests   int64
	FailedRequests  int64
	RequestLatency  time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time

	// Метрики кредитов
	Disbursements     int64
	Repayments        int64
	InstallmentsPaid  int64
	DisbursedVolume   map[string]decimal.Decimal // по валюте выплаты
	RepaidVolume      map[string]decimal.Decimal // по валюте платежа
	LastLoanOperation time.Time
	OverdueReminders  int64
	FXConversions     int64
	FXFailures        int64

	// Метрики ошибок
	ErrorCount    int64
	LastErrorTime time.Time
	ErrorTypes    map[string]int64
}

// NewMetrics создает пустой набор метрик
func NewMetrics() *Metrics {
	return &Metrics{
		DisbursedVolume: make(map[string]decimal.Decimal),
		RepaidVolume:    make(map[string]decimal.Decimal),
		ErrorTypes:      make(map[string]int64),
	}
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics возвращает общий экземпляр метрик
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// RecordRequest записывает метрики запроса
func (m *Metrics) RecordRequest(duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	m.RequestLatency += duration
	m.AverageLatency = m.RequestLatency / time.Duration(m.TotalRequests)
	m.LastRequestTime = time.Now()

	if failed {
		m.FailedRequests++
	}
}

// RecordDisbursement записывает выдачу кредита
func (m *Metrics) RecordDisbursement(amount decimal.Decimal, currency string, converted bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Disbursements++
	m.DisbursedVolume[currency] = m.DisbursedVolume[currency].Add(amount)
	if converted {
		m.FXConversions++
	}
	m.LastLoanOperation = time.Now()
}

// RecordRepayment записывает поступивший платеж
func (m *Metrics) RecordRepayment(amount decimal.Decimal, currency string, converted, installmentPaid bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Repayments++
	m.RepaidVolume[currency] = m.RepaidVolume[currency].Add(amount)
	if converted {
		m.FXConversions++
	}
	if installmentPaid {
		m.InstallmentsPaid++
	}
	m.LastLoanOperation = time.Now()
}

// RecordFXFailure записывает сбой сервиса курсов
func (m *Metrics) RecordFXFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FXFailures++
}

// RecordOverdueReminder записывает отправленное напоминание
func (m *Metrics) RecordOverdueReminder() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OverdueReminders++
}

// RecordError записывает метрики ошибки
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ErrorCount++
	m.LastErrorTime = time.Now()
	if errorType == "" {
		errorType = "unknown"
	}
	m.ErrorTypes[errorType]++
}

// GetMetricsSnapshot возвращает снимок текущих метрик
func (m *Metrics) GetMetricsSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	disbursed := make(map[string]string, len(m.DisbursedVolume))
	for k, v := range m.DisbursedVolume {
		disbursed[k] = v.StringFixed(2)
	}
	repaid := make(map[string]string, len(m.RepaidVolume))
	for k, v := range m.RepaidVolume {
		repaid[k] = v.StringFixed(2)
	}
	errorTypes := make(map[string]int64, len(m.ErrorTypes))
	for k, v := range m.ErrorTypes {
		errorTypes[k] = v
	}

	return map[string]interface{}{
		"total_requests":      m.TotalRequests,
		"failed_requests":     m.FailedRequests,
		"average_latency":     m.AverageLatency.String(),
		"disbursements":       m.Disbursements,
		"repayments":          m.Repayments,
		"installments_paid":   m.InstallmentsPaid,
		"disbursed_volume":    disbursed,
		"repaid_volume":       repaid,
		"overdue_reminders":   m.OverdueReminders,
		"fx_conversions":      m.FXConversions,
		"fx_failures":         m.FXFailures,
		"error_count":         m.ErrorCount,
		"last_error_time":     m.LastErrorTime,
		"error_types":         errorTypes,
		"last_loan_operation": m.LastLoanOperation,
	}
}

// ResetMetrics сбрасывает все метрики
func (m *Metrics) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests = 0
	m.FailedRequests = 0
	m.RequestLatency = 0
	m.AverageLatency = 0
	m.Disbursements = 0
	m.Repayments = 0
	m.InstallmentsPaid = 0
	m.DisbursedVolume = make(map[string]decimal.Decimal)
	m.RepaidVolume = make(map[string]decimal.Decimal)
	m.OverdueReminders = 0
	m.FXConversions = 0
	m.FXFailures = 0
	m.ErrorCount = 0
	m.ErrorTypes = make(map[string]int64)
}

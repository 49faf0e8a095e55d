package models

import "time"

// AuditEvent представляет неизменяемую запись журнала аудита.
// Seq задает порядок вставки и разрешает совпадения по времени.
type AuditEvent struct {
	ID       string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Seq      int64          `gorm:"column:seq;autoIncrement;uniqueIndex" json:"-"`
	ActorID  string         `gorm:"column:actor_id;type:varchar(36);not null;index" json:"actorId"`
	Action   string         `gorm:"column:action;size:32;not null;index" json:"action"`
	Entity   string         `gorm:"column:entity;size:64;not null;index" json:"entity"`
	EntityID string         `gorm:"column:entity_id;type:varchar(36);not null;index" json:"entityId"`
	At       time.Time      `gorm:"column:at;not null;index" json:"at"`
	Diff     map[string]any `gorm:"column:diff;type:jsonb;serializer:json" json:"diff,omitempty"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

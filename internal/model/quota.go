package model

import "time"

// QuotaState is the usage state tracked for one quota key.
// Timestamps are unix milliseconds of calls inside the current minute window.
type QuotaState struct {
	Date       string  `json:"date"`
	Count      int     `json:"count"`
	Timestamps []int64 `json:"timestamps"`
}

// QuotaRecord persists a QuotaState as its JSON document.
type QuotaRecord struct {
	Key       string     `gorm:"type:varchar(255);primaryKey"`
	State     QuotaState `gorm:"type:text;serializer:json;not null"`
	UpdatedAt time.Time  `gorm:"index"`
}

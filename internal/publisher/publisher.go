// Package publisher emits batch lifecycle notifications to downstream
// consumers such as site rebuild workers.
package publisher

import (
	"context"
	"time"
)

// BatchNotification is the payload published when an ingestion batch
// finishes.
type BatchNotification struct {
	BatchNumber     int       `json:"batchNumber"`
	Categories      int       `json:"categories"`
	Succeeded       int       `json:"succeeded"`
	Failed          int       `json:"failed"`
	TotalBusinesses int       `json:"totalBusinesses"`
	CompletedAt     time.Time `json:"completedAt"`
}

// Publisher delivers a payload to a named topic and returns the broker
// assigned message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

package model

import "time"

// Lead is one deduplicated business listing produced by a scrape job.
// Uniqueness is (client_id, fingerprint), enforced at the store.
type Lead struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	Fingerprint  string    `json:"fingerprint"`
	CompanyName  string    `json:"company_name"`
	AreaName     string    `json:"area_name"`
	Address      string    `json:"address,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Website      string    `json:"website,omitempty"`
	Rating       *float64  `json:"rating,omitempty"`
	ReviewsCount *int      `json:"reviews_count,omitempty"`
	SourceQuery  string    `json:"source_query"`
	Source       string    `json:"source"`
	RawPayload   []byte    `json:"raw_payload,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

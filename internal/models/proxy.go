package models

import (
	"time"
)

// Proxy is an outbound proxy owned by the proxy allocator
type Proxy struct {
	ID         string     `json:"id" badgerhold:"key"`
	URL        string     `json:"url" validate:"required,url"`
	Country    string     `json:"country,omitempty" badgerhold:"index"`
	Quality    int        `json:"quality" validate:"min=0,max=100"`
	Active     bool       `json:"active"`
	InUseBy    string     `json:"inUseBy,omitempty" badgerhold:"index"` // job id
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	UseCount   int        `json:"useCount"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ProxyConstraints narrows proxy allocation
type ProxyConstraints struct {
	MinQuality int
	Countries  []string
}

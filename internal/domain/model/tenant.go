package model

import "strconv"

// TenantID identifies one isolation boundary (a workspace, or a single user
// when no workspace applies). It is the sole key into both the in-memory
// registry and the persistent store.
type TenantID int64

func (id TenantID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseTenantID parses the string form used in store keys and URLs.
func ParseTenantID(s string) (TenantID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TenantID(n), nil
}

// ConnectionConfig describes where and under what namespace a tenant's router
// connection should be established. It is an immutable value: two configs are
// compared only for persistence purposes, never for identity of a live
// connection.
type ConnectionConfig struct {
	Endpoint string `json:"endpoint"`
	Realm    string `json:"realm"`
}

// Status is the caller-facing lifecycle state of a tenant.
type Status int16

const (
	StatusUnconfigured Status = iota + 1
	StatusConfigured
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusUnconfigured:
		return "unconfigured"
	case StatusConfigured:
		return "configured"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

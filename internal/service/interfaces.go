package service

import (
	"context"
	"time"
)

// DeviceInfo is the client-supplied device context attached to every auth
// request. Fingerprint is an opaque client-derived hash.
type DeviceInfo struct {
	Fingerprint string `json:"fingerprint"`
	UserAgent   string `json:"userAgent"`
	IPAddress   string `json:"-"`
}

// Location is a resolved geo position for an IP. Zero value means unknown.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Country   string    `json:"country"`
	At        time.Time `json:"at"`
}

func (l Location) Known() bool { return l.Latitude != 0 || l.Longitude != 0 || l.Country != "" }

// GeoResolver maps an IP address to a location. The geo database itself is an
// external collaborator; resolution failures must degrade to an unknown
// location, never block authentication.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

type NoopGeoResolver struct{}

func (NoopGeoResolver) Resolve(context.Context, string) (Location, error) { return Location{}, nil }

// TwoFactorSender delivers a one-time code out of band. Email/SMS transport
// is external; the default drop sender is for environments without delivery.
type TwoFactorSender interface {
	Send(ctx context.Context, email, code string) error
}

type DropTwoFactorSender struct{}

func (DropTwoFactorSender) Send(context.Context, string, string) error { return nil }

// BlacklistStore holds revoked-token hashes. Entries carry a TTL equal to the
// remaining token lifetime so the store cannot outgrow the live token set.
type BlacklistStore interface {
	Add(ctx context.Context, tokenHash string, ttl time.Duration) error
	Contains(ctx context.Context, tokenHash string) (bool, error)
}

// RateCounterStore increments windowed counters. Increment must set the TTL
// atomically with the first increment.
type RateCounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
	Reset(ctx context.Context, key string) error
}

// DeviceStore tracks per-user known device fingerprints and the last
// observed login location, plus the IP blocklist.
type DeviceStore interface {
	IsKnownDevice(ctx context.Context, userID uint, fingerprintHash string) (bool, error)
	RegisterDevice(ctx context.Context, userID uint, fingerprintHash string, ttl time.Duration) error
	LastLocation(ctx context.Context, userID uint) (Location, bool, error)
	SetLastLocation(ctx context.Context, userID uint, loc Location, ttl time.Duration) error
	BlockIP(ctx context.Context, ip string, ttl time.Duration) error
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// TwoFactorStore holds pending one-time code hashes keyed by challenge id.
type TwoFactorStore interface {
	Put(ctx context.Context, challengeID, codeHash string, ttl time.Duration) error
	Take(ctx context.Context, challengeID string) (codeHash string, found bool, err error)
}

// CSRFSecretStore keeps the per-session CSRF secret and its token id.
type CSRFSecretStore interface {
	Get(ctx context.Context, sessionID string) (secret, tokenID string, issuedAt time.Time, found bool, err error)
	Put(ctx context.Context, sessionID, secret, tokenID string, issuedAt time.Time, ttl time.Duration) error
}

// VersionSource reports a user's current token version for revocation checks.
type VersionSource interface {
	TokenVersion(ctx context.Context, userID uint) (int, error)
}

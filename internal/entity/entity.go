// Package entity defines the canonical business-entity records that the
// resolution cascade matches against, plus the read-mostly index interface
// the resolver is given.
package entity

import (
	"context"
	"time"
)

// Kind classifies an entity record.
type Kind string

const (
	KindBrand    Kind = "brand"
	KindCompany  Kind = "company"
	KindParent   Kind = "parent"
	KindIndustry Kind = "industry"
)

// Record is one canonical business entity. Records are never hard-deleted;
// auto-learned or stale records are marked Verified=false instead.
type Record struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	NormName string `json:"norm_name" db:"norm_name"`
	Kind     Kind   `json:"kind" db:"kind"`

	// ParentID is a lookup relation to an owning parent entity (a brand
	// pointing at its parent company). The parent does not own this record.
	ParentID *int64 `json:"parent_id,omitempty" db:"parent_id"`

	Aliases []string `json:"aliases,omitempty"`
	Tickers []string `json:"tickers,omitempty"`

	Sector   string `json:"sector,omitempty" db:"sector"`
	Industry string `json:"industry,omitempty" db:"industry"`
	Region   string `json:"region,omitempty" db:"region"`

	// Verified distinguishes manually confirmed records from auto-learned ones.
	Verified bool `json:"verified" db:"verified"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AliasKind classifies how an alias maps to its entity.
type AliasKind string

const (
	// AliasSynonym is a plain alternate name ("HUL" for Hindustan Unilever).
	AliasSynonym AliasKind = "synonym"
	// AliasBrand is a brand-to-parent mapping ("Harpic" owned by Reckitt).
	AliasBrand AliasKind = "brand"
	// AliasTicker is an exchange symbol ("TCS" for Tata Consultancy Services).
	AliasTicker AliasKind = "ticker"
)

// Alias is one curated alternate-name mapping in the alias index.
type Alias struct {
	ID        int64     `json:"id" db:"id"`
	EntityID  int64     `json:"entity_id" db:"entity_id"`
	Alias     string    `json:"alias" db:"alias"`
	NormAlias string    `json:"norm_alias" db:"norm_alias"`
	Kind      AliasKind `json:"kind" db:"kind"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AliasHit pairs an alias-index match with its resolved entity.
type AliasHit struct {
	Alias  Alias
	Entity Record
}

// Index is the read-mostly lookup handle injected into the resolver.
// Implementations may be backed by SQLite, Postgres, or an in-memory map;
// resolution never mutates the index.
type Index interface {
	// GetByName returns the entity whose normalized name equals key, or nil.
	GetByName(ctx context.Context, key string) (*Record, error)

	// GetByTicker returns the entity registered under the ticker symbol, or nil.
	GetByTicker(ctx context.Context, ticker string) (*Record, error)

	// GetAlias looks up the curated alias index by normalized alias, or nil.
	GetAlias(ctx context.Context, key string) (*AliasHit, error)

	// ListByKind returns all entities of one kind (used by the
	// parent-extraction fuzzy pass against parents only).
	ListByKind(ctx context.Context, kind Kind) ([]Record, error)

	// ListAll returns every entity record plus its aliases, for the fuzzy pass.
	ListAll(ctx context.Context) ([]Record, error)
}

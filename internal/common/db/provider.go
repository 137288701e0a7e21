package db

import "fmt"

// Provider hands out the database a unit of work should run on.
type Provider interface {
	Current() Database
}

// StaticProvider always returns the database it was built with.
type StaticProvider struct {
	db Database
}

// NewStaticProvider wraps database as a Provider.
func NewStaticProvider(database Database) *StaticProvider {
	return &StaticProvider{db: database}
}

// Current returns the wrapped database, or nil for a nil provider.
func (p *StaticProvider) Current() Database {
	if p == nil {
		return nil
	}
	return p.db
}

// CurrentDatabase fetches the provider's database and fails when there is none.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, fmt.Errorf("database provider is nil")
	}
	database := provider.Current()
	if database == nil {
		return nil, fmt.Errorf("database is nil")
	}
	return database, nil
}

package engine

import (
	"database/sql"
	"time"

	"planline/internal/repo"
)

type Engine struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:   db,
		Repo: repo.New(db),
		Now:  time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// repo returns the store bound to this engine's clock, so action writes
// and ledger entries share one notion of now.
func (e Engine) repo() repo.Repo {
	r := e.Repo
	r.Now = e.now
	return r
}

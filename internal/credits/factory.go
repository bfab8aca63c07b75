package credits

import (
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore picks the backing store. A nil pool means no database was
// configured and balances live in process memory only.
func NewStore(pool *pgxpool.Pool, startingCredits int) Store {
	if pool == nil {
		log.Printf("credits: no database configured, using in-memory balances")
		return NewInMemoryStore(startingCredits)
	}
	return NewPostgresStore(pool, startingCredits)
}

package devserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupTestDB(t *testing.T) *Repository {
	repo, err := NewRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.RunMigrations())
	return repo
}

func TestProducts_SeededInOrder(t *testing.T) {
	repo := setupTestDB(t)

	products, err := repo.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 10)
	assert.Equal(t, "BW0jAAeDJmlZCF8i", products[0].ID)
	assert.Equal(t, "Atomic Habits", products[0].Name)
	assert.Equal(t, 65.0, products[0].Cost)
	assert.Equal(t, 5, products[0].Rating)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	repo := setupTestDB(t)
	require.NoError(t, repo.RunMigrations())

	products, err := repo.Products(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 10)
}

func TestSearch(t *testing.T) {
	repo := setupTestDB(t)

	tests := []struct {
		query string
		want  []string
	}{
		{"basket", []string{"upLK9JbQ4rMhTwt4"}},
		{"FASHION", []string{"PmInA797xJhMIPti", "TwMM4OAhmK0VQ93S"}},
		{"iphone", []string{"KCRwjF7lN97HnEaY", "v4sLtEcMpzabRyfx"}},
		{"zzz-nomatch", nil},
		{"%", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			products, err := repo.Search(context.Background(), tt.query)
			require.NoError(t, err)
			var ids []string
			for _, p := range products {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestProduct(t *testing.T) {
	repo := setupTestDB(t)

	p, err := repo.Product(context.Background(), "v4sLtEcMpzabRyfx")
	require.NoError(t, err)
	assert.Equal(t, "iPhone XR", p.Name)

	_, err = repo.Product(context.Background(), "missing")
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestAuthenticate(t *testing.T) {
	repo := setupTestDB(t)

	u, err := repo.Authenticate(context.Background(), "crio.do", "learnbydoing")
	require.NoError(t, err)
	assert.Equal(t, User{Username: "crio.do", Balance: 5000}, u)

	_, err = repo.Authenticate(context.Background(), "crio.do", "wrong")
	require.ErrorIs(t, err, ErrBadPassword)

	_, err = repo.Authenticate(context.Background(), "nobody", "x")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthenticate_StoresBcryptHash(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, "shopper", "s3cret", 100))

	var hash string
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE username = $1`, "shopper").Scan(&hash))
	assert.NotContains(t, hash, "s3cret")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	u, err := repo.Authenticate(ctx, "shopper", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, User{Username: "shopper", Balance: 100}, u)

	_, err = repo.Authenticate(ctx, "shopper", "S3cret")
	require.ErrorIs(t, err, ErrBadPassword)

	require.Error(t, repo.CreateUser(ctx, "shopper", "again", 1), "usernames are unique")
}

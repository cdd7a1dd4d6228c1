package devserver

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/fjod/storefront/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrProductNotFound = errors.New("product not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrBadPassword     = errors.New("password mismatch")
)

type User struct {
	Username string
	Balance  int64
}

// seedUsers are created by RunMigrations when missing so a fresh backend
// can be logged into.
var seedUsers = []struct {
	username, password string
	balance            int64
}{
	{"crio.do", "learnbydoing", 5000},
}

// Catalog is the read side of the product and user tables.
type Catalog interface {
	Products(ctx context.Context) ([]domain.Product, error)
	Search(ctx context.Context, query string) ([]domain.Product, error)
	Product(ctx context.Context, id string) (domain.Product, error)
	Authenticate(ctx context.Context, username, password string) (User, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

// RunMigrations applies the embedded schema and seed data, then creates the
// seed users that do not exist yet.
func (r *Repository) RunMigrations() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	ctx := context.Background()
	for _, u := range seedUsers {
		var n int
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = $1`, u.username).Scan(&n); err != nil {
			return fmt.Errorf("could not check seed user: %w", err)
		}
		if n > 0 {
			continue
		}
		if err := r.CreateUser(ctx, u.username, u.password, u.balance); err != nil {
			return err
		}
	}

	return nil
}

func (r *Repository) Products(ctx context.Context) ([]domain.Product, error) {
	return r.queryProducts(ctx, `
		SELECT id, name, category, cost, rating, image
		FROM products
		ORDER BY position
	`)
}

// Search matches query against name or category, case-insensitively.
func (r *Repository) Search(ctx context.Context, query string) ([]domain.Product, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return r.queryProducts(ctx, `
		SELECT id, name, category, cost, rating, image
		FROM products
		WHERE lower(name) LIKE $1 ESCAPE '\' OR lower(category) LIKE $2 ESCAPE '\'
		ORDER BY position
	`, pattern, pattern)
}

func (r *Repository) Product(ctx context.Context, id string) (domain.Product, error) {
	products, err := r.queryProducts(ctx, `
		SELECT id, name, category, cost, rating, image
		FROM products
		WHERE id = $1
	`, id)
	if err != nil {
		return domain.Product{}, err
	}
	if len(products) == 0 {
		return domain.Product{}, ErrProductNotFound
	}
	return products[0], nil
}

// CreateUser stores a new user with a bcrypt hash of password.
func (r *Repository) CreateUser(ctx context.Context, username, password string, balance int64) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, balance)
		VALUES ($1, $2, $3)
	`, username, string(hash), balance)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *Repository) Authenticate(ctx context.Context, username, password string) (User, error) {
	var (
		u    User
		hash string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT username, password_hash, balance
		FROM users
		WHERE username = $1
	`, username).Scan(&u.Username, &hash, &u.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return User{}, ErrBadPassword
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to check password: %w", err)
	}
	return u, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Cost, &p.Rating, &p.Image); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

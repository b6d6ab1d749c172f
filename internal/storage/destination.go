package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ingest/internal/domain"
)

// DestinationStore manages destination connection records in SQLite.
type DestinationStore struct {
	db *DB
}

var _ domain.DestinationStore = (*DestinationStore)(nil)

// NewDestinationStore creates a new DestinationStore.
func NewDestinationStore(db *DB) *DestinationStore {
	return &DestinationStore{db: db}
}

const destinationColumns = `id, name, driver, host, port, database_name, username, ssl_mode, region, extra_json, created_at, updated_at`

func scanDestination(row scanner) (*domain.DestinationConnection, error) {
	c := &domain.DestinationConnection{}
	err := row.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database, &c.Username,
		&c.SSLMode, &c.Region, &c.ExtraJSON, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *DestinationStore) CreateDestination(c *domain.DestinationConnection) error {
	if !c.Driver.Valid() {
		return fmt.Errorf("unsupported driver: %q", c.Driver)
	}
	now := time.Now()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.ExtraJSON == "" {
		c.ExtraJSON = "{}"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}

	_, err := s.db.Conn().Exec(
		`INSERT INTO destinations (`+destinationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.Region, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *DestinationStore) GetDestination(id string) (*domain.DestinationConnection, error) {
	c, err := scanDestination(s.db.Conn().QueryRow(`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("destination %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *DestinationStore) ListDestinations() ([]domain.DestinationConnection, error) {
	rows, err := s.db.Conn().Query(`SELECT ` + destinationColumns + ` FROM destinations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.DestinationConnection
	for rows.Next() {
		c, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *DestinationStore) UpdateDestination(c *domain.DestinationConnection) error {
	c.UpdatedAt = time.Now()
	res, err := s.db.Conn().Exec(
		`UPDATE destinations SET name=?, driver=?, host=?, port=?, database_name=?, username=?, ssl_mode=?, region=?, extra_json=?, updated_at=?
		 WHERE id=?`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.Region, c.ExtraJSON, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	return affected(res, "destination", c.ID)
}

func (s *DestinationStore) DeleteDestination(id string) error {
	res, err := s.db.Conn().Exec(`DELETE FROM destinations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res, "destination", id)
}

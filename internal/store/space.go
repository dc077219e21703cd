package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/bywater/internal/model"
)

type SpaceStore struct {
	db *sql.DB
}

func NewSpaceStore(db *sql.DB) *SpaceStore {
	return &SpaceStore{db: db}
}

func (s *SpaceStore) Create(familyID int64, name string) (*model.Space, error) {
	result, err := s.db.Exec(`INSERT INTO spaces (family_id, name) VALUES (?, ?)`, familyID, name)
	if err != nil {
		return nil, fmt.Errorf("insert space: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *SpaceStore) GetByID(id int64) (*model.Space, error) {
	var sp model.Space
	err := s.db.QueryRow(
		`SELECT id, family_id, name, created_at, updated_at FROM spaces WHERE id = ?`, id,
	).Scan(&sp.ID, &sp.FamilyID, &sp.Name, &sp.CreatedAt, &sp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get space: %w", err)
	}
	return &sp, nil
}

func (s *SpaceStore) ListByFamily(familyID int64) ([]model.Space, error) {
	rows, err := s.db.Query(
		`SELECT id, family_id, name, created_at, updated_at FROM spaces WHERE family_id = ? ORDER BY name`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	var spaces []model.Space
	for rows.Next() {
		var sp model.Space
		if err := rows.Scan(&sp.ID, &sp.FamilyID, &sp.Name, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

func (s *SpaceStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM spaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	return nil
}

type CategoryStore struct {
	db *sql.DB
}

func NewCategoryStore(db *sql.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

func (s *CategoryStore) Create(spaceID int64, name string) (*model.Category, error) {
	result, err := s.db.Exec(`INSERT INTO categories (space_id, name) VALUES (?, ?)`, spaceID, name)
	if err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *CategoryStore) GetByID(id int64) (*model.Category, error) {
	var c model.Category
	err := s.db.QueryRow(
		`SELECT id, space_id, name, created_at, updated_at FROM categories WHERE id = ?`, id,
	).Scan(&c.ID, &c.SpaceID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

func (s *CategoryStore) ListBySpace(spaceID int64) ([]model.Category, error) {
	rows, err := s.db.Query(
		`SELECT id, space_id, name, created_at, updated_at FROM categories WHERE space_id = ? ORDER BY name`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.SpaceID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *CategoryStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

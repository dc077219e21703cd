package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/bywater/internal/model"
)

type FolderStore struct {
	db *sql.DB
}

func NewFolderStore(db *sql.DB) *FolderStore {
	return &FolderStore{db: db}
}

const folderCols = `id, category_id, parent_id, owner_id, name, created_at, updated_at`

func scanFolder(scanner interface{ Scan(...any) error }) (*model.Folder, error) {
	var f model.Folder
	var parentID sql.NullInt64
	err := scanner.Scan(&f.ID, &f.CategoryID, &parentID, &f.OwnerID, &f.Name, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.Int64
	}
	return &f, nil
}

func (s *FolderStore) Create(categoryID int64, parentID *int64, ownerID int64, name string) (*model.Folder, error) {
	result, err := s.db.Exec(
		`INSERT INTO folders (category_id, parent_id, owner_id, name) VALUES (?, ?, ?, ?)`,
		categoryID, parentID, ownerID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert folder: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *FolderStore) GetByID(id int64) (*model.Folder, error) {
	row := s.db.QueryRow(`SELECT `+folderCols+` FROM folders WHERE id = ?`, id)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return f, nil
}

func (s *FolderStore) ListByCategory(categoryID int64) ([]model.Folder, error) {
	rows, err := s.db.Query(`SELECT `+folderCols+` FROM folders WHERE category_id = ? ORDER BY name`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, *f)
	}
	return folders, rows.Err()
}

func (s *FolderStore) Rename(id int64, name string) (*model.Folder, error) {
	_, err := s.db.Exec(
		`UPDATE folders SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename folder: %w", err)
	}
	return s.GetByID(id)
}

// SetParent re-parents a folder. Cycle validation happens in the hierarchy
// index before this is called; the store only performs the write.
func (s *FolderStore) SetParent(id int64, parentID *int64) (*model.Folder, error) {
	_, err := s.db.Exec(
		`UPDATE folders SET parent_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, parentID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("set folder parent: %w", err)
	}
	return s.GetByID(id)
}

func (s *FolderStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

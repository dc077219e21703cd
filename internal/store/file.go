package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/bywater/internal/model"
)

type FileStore struct {
	db *sql.DB
}

func NewFileStore(db *sql.DB) *FileStore {
	return &FileStore{db: db}
}

const fileCols = `id, folder_id, owner_id, creator_id, name, size_bytes, created_at, updated_at`

func scanFile(scanner interface{ Scan(...any) error }) (*model.File, error) {
	var f model.File
	err := scanner.Scan(&f.ID, &f.FolderID, &f.OwnerID, &f.CreatorID, &f.Name, &f.SizeBytes, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *FileStore) Create(folderID, ownerID, creatorID int64, name string, sizeBytes int64) (*model.File, error) {
	result, err := s.db.Exec(
		`INSERT INTO files (folder_id, owner_id, creator_id, name, size_bytes) VALUES (?, ?, ?, ?, ?)`,
		folderID, ownerID, creatorID, name, sizeBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *FileStore) GetByID(id int64) (*model.File, error) {
	row := s.db.QueryRow(`SELECT `+fileCols+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *FileStore) ListByFolder(folderID int64) ([]model.File, error) {
	rows, err := s.db.Query(`SELECT `+fileCols+` FROM files WHERE folder_id = ? ORDER BY name`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (s *FileStore) Rename(id int64, name string) (*model.File, error) {
	_, err := s.db.Exec(`UPDATE files SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("rename file: %w", err)
	}
	return s.GetByID(id)
}

func (s *FileStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

package store

import "database/sql"

const (
	metaSchoolName   = "school_name"
	metaImportPrefix = "imported:"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetImportedFileHash records the content hash of an imported questionnaire file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	return s.SetMetadata(metaImportPrefix+path, hash)
}

// GetImportedFileHash returns the recorded hash for path, or "" if never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	return s.GetMetadata(metaImportPrefix + path)
}

// SetSchoolName stores the school name shown in exports.
func (s *Store) SetSchoolName(name string) error {
	return s.SetMetadata(metaSchoolName, name)
}

// GetSchoolName returns the configured school name.
func (s *Store) GetSchoolName() (string, error) {
	return s.GetMetadata(metaSchoolName)
}

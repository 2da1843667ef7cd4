// Package catalog stores the image definitions QA suites are allowed to
// launch. Definitions survive restarts in a local sqlite database; the
// running containers themselves are deliberately not persisted.
package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gosimple/slug"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/suren-cb/qatestsuit/pkg/api"
)

// ErrNotFound is returned when no image definition has the given id.
var ErrNotFound = errors.New("image definition not found")

// Catalog is the registry of startable image definitions.
type Catalog struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *logrus.Logger
}

// New opens (or creates) the catalog database under dataDir.
func New(dataDir string, logger *logrus.Logger) (*Catalog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "images.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}

	if logger == nil {
		logger = logrus.New()
	}
	logger.WithField("path", dbPath).Info("Image catalog opened")

	return &Catalog{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func initializeSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			image TEXT NOT NULL,
			exposed_port INTEGER NOT NULL,
			host_port INTEGER NOT NULL DEFAULT 0,
			command TEXT NOT NULL,
			entrypoint TEXT NOT NULL,
			env TEXT NOT NULL,
			credentials TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			health_check_path TEXT NOT NULL DEFAULT '',
			registry_auth TEXT NOT NULL DEFAULT '',
			wait_time_ms INTEGER NOT NULL DEFAULT 0,
			registered_at INTEGER NOT NULL
		)
	`)
	return err
}

// Register stores a new image definition and returns it with its
// assigned id. Ids are slugs of the display name; a name that slugs to
// an id already in use gets a numeric suffix.
func (c *Catalog) Register(req api.RegisterImageRequest) (*api.ImageDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.nextID(req.Name)
	if err != nil {
		return nil, err
	}

	def := &api.ImageDefinition{
		ImageID:         id,
		Name:            req.Name,
		ImageName:       req.ImageName,
		ExposedPort:     req.ExposedPort,
		HostPort:        req.HostPort,
		Command:         req.Command,
		Entrypoint:      req.Entrypoint,
		Credentials:     req.Credentials,
		Description:     req.Description,
		Env:             req.Env,
		HealthCheckPath: req.HealthCheckPath,
		RegistryAuth:    req.RegistryAuth,
		RegisteredAt:    time.Now().UTC().Truncate(time.Second),
		WaitTimeMs:      req.WaitTimeMs,
	}

	command, err := encodeJSON(def.Command)
	if err != nil {
		return nil, err
	}
	entrypoint, err := encodeJSON(def.Entrypoint)
	if err != nil {
		return nil, err
	}
	env, err := encodeJSON(def.Env)
	if err != nil {
		return nil, err
	}
	credentials, err := encodeJSON(def.Credentials)
	if err != nil {
		return nil, err
	}

	_, err = c.db.Exec(
		`INSERT INTO images (
			id, name, image, exposed_port, host_port,
			command, entrypoint, env, credentials,
			description, health_check_path, registry_auth, wait_time_ms, registered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ImageID, def.Name, def.ImageName, def.ExposedPort, def.HostPort,
		command, entrypoint, env, credentials,
		def.Description, def.HealthCheckPath, def.RegistryAuth, def.WaitTimeMs, def.RegisteredAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert image definition: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"image_id": def.ImageID,
		"image":    def.ImageName,
	}).Info("Registered image definition")
	return def, nil
}

// Get returns one image definition by id.
func (c *Catalog) Get(id string) (*api.ImageDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.db.QueryRow(`
		SELECT id, name, image, exposed_port, host_port,
			command, entrypoint, env, credentials,
			description, health_check_path, registry_auth, wait_time_ms, registered_at
		FROM images WHERE id = ?
	`, id)

	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query image definition: %w", err)
	}
	return def, nil
}

// List returns all image definitions in registration order.
func (c *Catalog) List() ([]api.ImageDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.Query(`
		SELECT id, name, image, exposed_port, host_port,
			command, entrypoint, env, credentials,
			description, health_check_path, registry_auth, wait_time_ms, registered_at
		FROM images ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query image definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]api.ImageDefinition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image definition: %w", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating image definitions: %w", err)
	}
	return defs, nil
}

// Delete removes one image definition by id. Instances already started
// from it are untouched.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM images WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete image definition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete image definition: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("image %s: %w", id, ErrNotFound)
	}

	c.logger.WithField("image_id", id).Info("Deleted image definition")
	return nil
}

// Seed registers the given definitions unless their id is already
// taken, so a config-provided set can be applied on every boot without
// piling up duplicates. It returns how many entries were added.
func (c *Catalog) Seed(entries []api.RegisterImageRequest) (int, error) {
	added := 0
	for _, entry := range entries {
		id := makeSlug(entry.Name)

		c.mu.RLock()
		exists, err := c.idExists(id)
		c.mu.RUnlock()
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}

		if _, err := c.Register(entry); err != nil {
			return added, fmt.Errorf("failed to seed image %q: %w", entry.Name, err)
		}
		added++
	}

	if added > 0 {
		c.logger.WithField("count", added).Info("Seeded image catalog")
	}
	return added, nil
}

// nextID slugs the display name and suffixes it until it is unique.
// Caller holds the write lock.
func (c *Catalog) nextID(name string) (string, error) {
	base := makeSlug(name)

	id := base
	for n := 2; ; n++ {
		exists, err := c.idExists(id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

func (c *Catalog) idExists(id string) (bool, error) {
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM images WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check image id: %w", err)
	}
	return count > 0, nil
}

func makeSlug(name string) string {
	s := slug.Make(name)
	if s == "" {
		s = "image"
	}
	return s
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row scanner) (*api.ImageDefinition, error) {
	var (
		def          api.ImageDefinition
		command      string
		entrypoint   string
		env          string
		credentials  string
		registeredAt int64
	)
	err := row.Scan(
		&def.ImageID, &def.Name, &def.ImageName, &def.ExposedPort, &def.HostPort,
		&command, &entrypoint, &env, &credentials,
		&def.Description, &def.HealthCheckPath, &def.RegistryAuth, &def.WaitTimeMs, &registeredAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(command, &def.Command); err != nil {
		return nil, err
	}
	if err := decodeJSON(entrypoint, &def.Entrypoint); err != nil {
		return nil, err
	}
	if err := decodeJSON(env, &def.Env); err != nil {
		return nil, err
	}
	if err := decodeJSON(credentials, &def.Credentials); err != nil {
		return nil, err
	}

	def.RegisteredAt = time.Unix(registeredAt, 0).UTC()
	return &def, nil
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(s string, out interface{}) error {
	if s == "" || s == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/regcycle/pkg/persistence"
)

// documents stores JSON documents under <root>/tenants/<tenant>/<collection>/.../<id>.json.
type documents struct {
	root string
	mu   sync.RWMutex
}

// validateID rejects identifiers that are empty or could escape their directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (d *documents) dir(tenantID string, parts ...string) (string, error) {
	if err := validateID(tenantID); err != nil {
		return "", err
	}

	elems := []string{d.root, "tenants", tenantID}

	for _, part := range parts {
		if err := validateID(part); err != nil {
			return "", err
		}

		elems = append(elems, part)
	}

	return filepath.Join(elems...), nil
}

func (d *documents) write(value any, tenantID string, parts ...string) error {
	return d.writeIf(value, nil, tenantID, parts...)
}

// writeIf writes value after check accepts the stored document, nil when there is none. Both happen
// under the write lock.
func (d *documents) writeIf(value any, check func(stored []byte) error, tenantID string, parts ...string) error {
	dir, err := d.dir(tenantID, parts[:len(parts)-1]...)
	if err != nil {
		return err
	}

	id := parts[len(parts)-1]
	if err := validateID(id); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if check != nil {
		stored, err := os.ReadFile(filepath.Join(dir, id+".json")) // #nosec G304 -- every path element is validated
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", id, err)
		}

		if err := check(stored); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, id+".json")); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	return nil
}

// read decodes the document into value and reports whether it exists.
func (d *documents) read(value any, tenantID string, parts ...string) (bool, error) {
	dir, err := d.dir(tenantID, parts...)
	if err != nil {
		return false, err
	}

	d.mu.RLock()
	data, err := os.ReadFile(dir + ".json") // #nosec G304 -- every path element is validated
	d.mu.RUnlock()

	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(dir), err)
	}

	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(dir), err)
	}

	return true, nil
}

func (d *documents) remove(tenantID string, parts ...string) error {
	dir, err := d.dir(tenantID, parts...)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(dir + ".json"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(dir), err)
	}

	return nil
}

// readAll decodes every document of a collection, in file name order.
func readAll[T any](d *documents, tenantID string, parts ...string) ([]*T, error) {
	dir, err := d.dir(tenantID, parts...)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]*T, 0), nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	result := make([]*T, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- listed from a validated directory
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		var value T
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", name, err)
		}

		result = append(result, &value)
	}

	return result, nil
}

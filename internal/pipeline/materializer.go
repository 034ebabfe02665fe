package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"reportsync/internal/logging"
)

// Materializer moves a retrieved file to its hour bucket,
// {Dir}/{Prefix}-{HH}.csv. A later file in the same hour replaces the
// earlier one.
type Materializer struct {
	Dir    string
	Prefix string
	Now    func() time.Time
	Logger logging.Logger
}

// Path returns the bucket path for t.
func (m *Materializer) Path(t time.Time) string {
	return filepath.Join(m.Dir, fmt.Sprintf("%s-%02d.csv", m.Prefix, t.Hour()))
}

func (m *Materializer) Materialize(src string) (string, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	logger := m.Logger
	if logger == nil {
		logger = logging.Nop{}
	}

	dst := m.Path(now())
	if filepath.Clean(src) == filepath.Clean(dst) {
		return dst, nil
	}
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return "", fmt.Errorf("create materialize dir: %w", err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove previous %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		// Download and bucket dirs may sit on different filesystems.
		if cerr := moveByCopy(src, dst); cerr != nil {
			return "", fmt.Errorf("move %s to %s: %w", src, dst, cerr)
		}
	}
	logger.Printf("📁 File saved as %s", dst)
	return dst, nil
}

func moveByCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

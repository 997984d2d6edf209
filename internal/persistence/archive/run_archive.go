package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type RunArchiveMeta struct {
	RunID        string  `json:"run_id"`
	Seed         int64   `json:"seed"`
	Mode         string  `json:"mode"`
	Structures   int     `json:"structures"`
	Sweeps       int     `json:"sweeps"`
	Reached      bool    `json:"reached"`
	TrailingMean float64 `json:"trailing_mean"`
	Best         float64 `json:"best"`
	Snapshot     string  `json:"snapshot"`
	CreatedAt    string  `json:"created_at"`
}

// ArchiveRunSnapshot copies the last snapshot of a finished run into
// `dataDir/archives/run_<id>/` next to a meta.json describing the run.
// It returns archived=false when the run produced no snapshot.
func ArchiveRunSnapshot(dataDir, snapshotPath string, meta RunArchiveMeta) (archivedPath string, archived bool, err error) {
	if strings.TrimSpace(snapshotPath) == "" {
		return "", false, nil
	}
	if strings.TrimSpace(meta.RunID) == "" {
		return "", false, fmt.Errorf("archive: missing run id")
	}

	archiveDir := filepath.Join(dataDir, "archives", "run_"+meta.RunID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta.Snapshot = filepath.Base(dst)
	meta.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return dst, true, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return dst, true, err
	}
	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

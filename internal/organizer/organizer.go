// Package organizer owns the on-disk output layout.
//
//	<root>/<tms>/<Type Name>.pdf
//	<root>/<tms>/<Type Name>/<instance>.pdf   (multi-instance types)
//	<root>/logs/execution_<run-id>.json
package organizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/navigator"
)

const (
	LogsDir   = "logs"
	extension = ".pdf"
)

type Organizer struct {
	root     string
	minBytes int
	types    map[string]config.DocumentType
	now      func() time.Time
	logger   *slog.Logger
}

func New(root string, minBytes int, types map[string]config.DocumentType, logger *slog.Logger) *Organizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Organizer{
		root:     root,
		minBytes: minBytes,
		types:    types,
		now:      time.Now,
		logger:   logger.With("component", "organizer"),
	}
}

// FromConfig builds an organizer rooted at root, or at output.dir when root
// is empty.
func FromConfig(cfg *config.Config, root string, logger *slog.Logger) *Organizer {
	if root == "" {
		root = cfg.Output.Dir
	}
	return New(root, cfg.Output.MinDocumentBytes, cfg.DocumentTypes, logger)
}

func (o *Organizer) Root() string { return o.root }

// Path returns the destination for a document. It depends only on its
// arguments and the configured type names.
func (o *Organizer) Path(tms string, docType domain.DocTypeID, instance string) string {
	name := o.canonicalName(docType)
	dir := filepath.Join(o.root, sanitize(tms))
	if dt, ok := o.types[string(docType)]; ok && dt.MultiInstance {
		file := sanitize(instance)
		if file == "" {
			file = name
		}
		return filepath.Join(dir, name, file+extension)
	}
	return filepath.Join(dir, name+extension)
}

func (o *Organizer) canonicalName(docType domain.DocTypeID) string {
	if dt, ok := o.types[string(docType)]; ok && dt.Name != "" {
		return sanitize(dt.Name)
	}
	return sanitize(string(docType))
}

// Store writes doc to its canonical path and returns the record. Content
// below the minimum size is rejected with a validation error. Storing the
// same content again overwrites the file and yields the same path and
// checksum.
func (o *Organizer) Store(tms string, docType domain.DocTypeID, county domain.CountyID, doc navigator.Document) (domain.DocumentRecord, error) {
	if len(doc.Data) == 0 {
		return domain.DocumentRecord{}, domain.Invalid("%s/%s: empty document", tms, docType)
	}
	if len(doc.Data) < o.minBytes {
		return domain.DocumentRecord{}, domain.Invalid("%s/%s: document is %d bytes, below minimum %d", tms, docType, len(doc.Data), o.minBytes)
	}
	path := o.Path(tms, docType, doc.Instance)
	if err := writeFileAtomic(path, doc.Data, 0o644); err != nil {
		return domain.DocumentRecord{}, fmt.Errorf("store %s/%s: %w", tms, docType, err)
	}
	sum := sha256.Sum256(doc.Data)
	rec := domain.DocumentRecord{
		TMS:         tms,
		DocType:     docType,
		County:      county,
		Path:        path,
		SizeBytes:   int64(len(doc.Data)),
		Checksum:    hex.EncodeToString(sum[:]),
		CollectedAt: o.now().UTC(),
	}
	o.logger.Debug("document stored", "tms", tms, "doc_type", docType, "county", county, "path", path, "bytes", rec.SizeBytes)
	return rec, nil
}

// LogPath returns where the execution log of runID is written.
func (o *Organizer) LogPath(runID string) string {
	return filepath.Join(o.root, LogsDir, "execution_"+sanitize(runID)+".json")
}

// WriteRunLog writes v as indented JSON to the run's execution log.
func (o *Organizer) WriteRunLog(runID string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode execution log: %w", err)
	}
	path := o.LogPath(runID)
	if err := writeFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write execution log: %w", err)
	}
	return path, nil
}

// StoredFile describes a file found under a TMS directory.
type StoredFile struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// Files lists every document stored for tms, sorted by path.
func (o *Organizer) Files(tms string) ([]StoredFile, error) {
	dir := filepath.Join(o.root, sanitize(tms))
	var out []StoredFile
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, StoredFile{Path: path, SizeBytes: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

var unsafeChars = strings.NewReplacer(
	"/", "-", `\`, "-", ":", "-", "*", "-", "?", "", `"`, "", "<", "", ">", "", "|", "-",
)

func sanitize(s string) string {
	s = strings.TrimSpace(unsafeChars.Replace(s))
	s = strings.Trim(s, ".")
	return s
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

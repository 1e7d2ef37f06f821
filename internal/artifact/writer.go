// Package artifact writes saved frames into the
// ID_<identifier>/<bucket>/<serial>.<ext> tree and reads that tree back.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/GriffinCanCode/livetag/internal/classify"
	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/history"
)

const (
	dirPrefix = "ID_"
	textExt   = ".txt"
	metaExt   = ".json"

	pngCompression = png.DefaultCompression
)

var unsafeName = regexp.MustCompile(`[<>:"/\\|?*]`)

// Options configures a Writer.
type Options struct {
	SaveDir    string
	Format     string // png | jpg
	Quality    int
	DateFormat string
}

// Record describes one artifact on disk.
type Record struct {
	Identifier string    `json:"identifier"`
	Bucket     string    `json:"bucket"`
	Serial     string    `json:"serial"`
	ImagePath  string    `json:"image_path"`
	TextPath   string    `json:"text_path"`
	MetaPath   string    `json:"meta_path,omitempty"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
}

// Pair returns the dedup key of the record.
func (r Record) Pair() history.Pair {
	return history.Pair{Identifier: r.Identifier, Serial: r.Serial}
}

// Metadata is the JSON sidecar written when a classification exists.
type Metadata struct {
	Identifier string           `json:"identifier"`
	Serial     string           `json:"serial"`
	CapturedAt time.Time        `json:"captured_at"`
	Style      *classify.Result `json:"style,omitempty"`
}

// Writer persists artifacts. Every file goes through a temp file in the
// target directory, fsync and rename. Sidecars land before the image.
type Writer struct {
	opts      Options
	ext       string
	writeFile func(path string, data []byte) error
}

// New creates a writer. Format "jpeg" is treated as "jpg".
func New(opts Options) *Writer {
	ext := strings.ToLower(opts.Format)
	if ext == "jpeg" {
		ext = "jpg"
	}
	if ext != "jpg" {
		ext = "png"
	}
	if opts.DateFormat == "" {
		opts.DateFormat = "01-02"
	}
	return &Writer{opts: opts, ext: ext, writeFile: writeFileAtomic}
}

// SaveDir returns the artifact root.
func (w *Writer) SaveDir() string { return w.opts.SaveDir }

// Bucket returns the date bucket name for t in local time.
func (w *Writer) Bucket(t time.Time) string {
	return sanitize(t.Local().Format(w.opts.DateFormat))
}

func (w *Writer) dir(p history.Pair, bucket string) string {
	return filepath.Join(w.opts.SaveDir, dirPrefix+sanitize(p.Identifier), bucket)
}

// Paths returns the image and text sidecar paths for a pair in a bucket.
func (w *Writer) Paths(p history.Pair, bucket string) (img, text string) {
	base := filepath.Join(w.dir(p, bucket), sanitize(p.Serial))
	return base + "." + w.ext, base + textExt
}

// Exists reports whether an image for p is already present in bucket, in any
// supported format.
func (w *Writer) Exists(p history.Pair, bucket string) (string, bool) {
	base := filepath.Join(w.dir(p, bucket), sanitize(p.Serial))
	for _, ext := range []string{"." + w.ext, ".png", ".jpg", ".jpeg"} {
		if fi, err := os.Stat(base + ext); err == nil && fi.Mode().IsRegular() {
			return base + ext, true
		}
	}
	return "", false
}

// Write persists img and its sidecars for p. The bucket comes from capturedAt.
func (w *Writer) Write(img image.Image, capturedAt time.Time, p history.Pair, lines []string, style *classify.Result) (Record, error) {
	if !p.Valid() {
		return Record{}, apperrors.Newf(apperrors.PersistFailed, "incomplete pair %q", p.String())
	}

	bucket := w.Bucket(capturedAt)
	dir := w.dir(p, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, apperrors.Wrapf(err, apperrors.PersistFailed, "create %s", dir)
	}

	imgData, err := w.encode(img)
	if err != nil {
		return Record{}, apperrors.Wrap(err, apperrors.PersistFailed, "encode image")
	}

	imgPath, textPath := w.Paths(p, bucket)
	rec := Record{
		Identifier: p.Identifier,
		Bucket:     bucket,
		Serial:     p.Serial,
		ImagePath:  imgPath,
		TextPath:   textPath,
		Size:       int64(len(imgData)),
		ModTime:    capturedAt,
	}

	if err := w.writeFile(textPath, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		return Record{}, apperrors.Wrapf(err, apperrors.PersistFailed, "write %s", textPath)
	}
	if style != nil {
		meta, err := json.MarshalIndent(Metadata{
			Identifier: p.Identifier,
			Serial:     p.Serial,
			CapturedAt: capturedAt,
			Style:      style,
		}, "", "  ")
		if err != nil {
			return Record{}, apperrors.Wrap(err, apperrors.PersistFailed, "encode metadata")
		}
		rec.MetaPath = strings.TrimSuffix(textPath, textExt) + metaExt
		if err := w.writeFile(rec.MetaPath, meta); err != nil {
			return Record{}, apperrors.Wrapf(err, apperrors.PersistFailed, "write %s", rec.MetaPath)
		}
		rec.Label, rec.Confidence = style.Label, style.Confidence
	}
	if err := w.writeFile(imgPath, imgData); err != nil {
		return Record{}, apperrors.Wrapf(err, apperrors.PersistFailed, "write %s", imgPath)
	}
	return rec, nil
}

func (w *Writer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if w.ext == "jpg" {
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(w.opts.Quality))
	} else {
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngCompression))
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sanitize(name string) string {
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "." || name == ".." {
		return "_"
	}
	return name
}

// writeFileAtomic writes data to a temp file next to path, fsyncs it and
// renames it into place, then syncs the directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir is best effort; some platforms cannot fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

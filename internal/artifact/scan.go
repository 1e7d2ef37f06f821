package artifact

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/history"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Scan lists every artifact image under the save directory, sorted by
// identifier, bucket and serial. Temp files and foreign entries are skipped.
// A missing save directory yields no records.
func (w *Writer) Scan() ([]Record, error) {
	root := w.opts.SaveDir
	ids, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Internal, "scan %s", root)
	}

	var out []Record
	for _, idDir := range ids {
		if !idDir.IsDir() || !strings.HasPrefix(idDir.Name(), dirPrefix) {
			continue
		}
		id := strings.TrimPrefix(idDir.Name(), dirPrefix)
		buckets, err := os.ReadDir(filepath.Join(root, idDir.Name()))
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.Internal, "scan %s", idDir.Name())
		}
		for _, b := range buckets {
			if !b.IsDir() {
				continue
			}
			recs, err := scanBucket(filepath.Join(root, idDir.Name(), b.Name()), id, b.Name())
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Identifier != b.Identifier {
			return a.Identifier < b.Identifier
		}
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		return a.Serial < b.Serial
	})
	return out, nil
}

func scanBucket(dir, id, bucket string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Internal, "scan %s", dir)
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if e.IsDir() || !imageExts[ext] || strings.Contains(name, ".tmp.") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, readRecord(filepath.Join(dir, name), id, bucket, info))
	}
	return out, nil
}

// Lookup returns the record of an image already stored for p in bucket,
// sidecars and label included.
func (w *Writer) Lookup(p history.Pair, bucket string) (Record, bool) {
	path, ok := w.Exists(p, bucket)
	if !ok {
		return Record{}, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, false
	}
	return readRecord(path, p.Identifier, bucket, info), true
}

// readRecord describes the image at path and whichever sidecars sit next to it.
func readRecord(path, id, bucket string, info os.FileInfo) Record {
	serial := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base := strings.TrimSuffix(path, filepath.Ext(path))
	rec := Record{
		Identifier: id,
		Bucket:     bucket,
		Serial:     serial,
		ImagePath:  path,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
	}
	if _, err := os.Stat(base + textExt); err == nil {
		rec.TextPath = base + textExt
	}
	if data, err := os.ReadFile(base + metaExt); err == nil {
		var meta Metadata
		if json.Unmarshal(data, &meta) == nil && meta.Style != nil {
			rec.MetaPath = base + metaExt
			rec.Label, rec.Confidence = meta.Style.Label, meta.Style.Confidence
		}
	}
	return rec
}

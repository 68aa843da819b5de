package source

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrFilenameFormat is wrapped by every FilenameFormatError.
	ErrFilenameFormat = errors.New("raw file name does not match naming convention")

	// ErrDuplicateTimestamp is returned when two files of one site share a timestamp.
	ErrDuplicateTimestamp = errors.New("two raw files share a nominal timestamp")
)

// FilenameFormatError reports a data file whose name cannot be parsed.
type FilenameFormatError struct {
	Name   string
	Reason string
}

func (e *FilenameFormatError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrFilenameFormat, e.Name, e.Reason)
}

func (e *FilenameFormatError) Unwrap() error { return ErrFilenameFormat }

// RawFile is one raw data file and the nominal start time from its name.
type RawFile struct {
	Path      string
	Timestamp time.Time
	RateHz    float64
}

// Acquisition-rate marker, e.g. "10Hz" or "20hz".
var rateMarker = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)hz`)

// timestampLayout is the compact form left after separators are stripped.
const timestampLayout = "200601021504"

// dataExtensions are the suffixes that make a file a raw data candidate.
var dataExtensions = []string{".dat", ".csv"}

// IsRawFile reports whether name looks like a raw data file, optionally zstd compressed.
func IsRawFile(name string) bool {
	lower := strings.ToLower(path.Base(name))
	lower = strings.TrimSuffix(lower, ".zst")
	for _, ext := range dataExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// IsCompressed checks if a file is zstd compressed.
func IsCompressed(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".zst")
}

// ParseRawFilename extracts the nominal start time and acquisition rate from a
// name such as TOA5_SF4.ts_data_10Hz_2020_01_01_0000.dat. The segment after
// the last rate marker, with separators removed, must read YYYYMMDDHHMM.
func ParseRawFilename(name string) (time.Time, float64, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))

	locs := rateMarker.FindAllStringSubmatchIndex(base, -1)
	if locs == nil {
		return time.Time{}, 0, &FilenameFormatError{Name: base, Reason: "no acquisition-rate marker"}
	}
	last := locs[len(locs)-1]
	rate, err := strconv.ParseFloat(base[last[2]:last[3]], 64)
	if err != nil || rate <= 0 {
		return time.Time{}, 0, &FilenameFormatError{Name: base, Reason: "invalid acquisition rate"}
	}

	segment := base[last[1]:]
	segment = strings.TrimSuffix(segment, ".zst")
	segment = strings.TrimSuffix(segment, path.Ext(segment))
	digits := strings.NewReplacer("_", "", "-", "", ".", "", " ", "").Replace(segment)
	if len(digits) != len(timestampLayout) {
		return time.Time{}, 0, &FilenameFormatError{Name: base, Reason: fmt.Sprintf("timestamp segment %q is not YYYYMMDDHHMM", segment)}
	}

	ts, err := time.ParseInLocation(timestampLayout, digits, time.UTC)
	if err != nil {
		return time.Time{}, 0, &FilenameFormatError{Name: base, Reason: err.Error()}
	}
	return ts, rate, nil
}

// FileIndex maintains an ordered list of raw files for one site.
type FileIndex struct {
	files  []RawFile
	sorted bool
}

// NewFileIndex creates an empty file index.
func NewFileIndex() *FileIndex {
	return &FileIndex{files: make([]RawFile, 0)}
}

// AddFile parses name and adds the file to the index.
func (idx *FileIndex) AddFile(name string) error {
	ts, rate, err := ParseRawFilename(name)
	if err != nil {
		return err
	}
	idx.Add(RawFile{Path: name, Timestamp: ts, RateHz: rate})
	return nil
}

// Add adds an already parsed file.
func (idx *FileIndex) Add(f RawFile) {
	idx.files = append(idx.files, f)
	idx.sorted = false
}

// Sort orders files by timestamp, then path so the order is deterministic.
func (idx *FileIndex) Sort() {
	if idx.sorted {
		return
	}
	sort.SliceStable(idx.files, func(i, j int) bool {
		a, b := idx.files[i], idx.files[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Path < b.Path
	})
	idx.sorted = true
}

// Window returns a new index holding the files whose timestamp lies in the
// closed window [start, end].
func (idx *FileIndex) Window(start, end time.Time) *FileIndex {
	idx.Sort()

	out := NewFileIndex()
	for _, f := range idx.files {
		if f.Timestamp.Before(start) {
			continue
		}
		if f.Timestamp.After(end) {
			break
		}
		out.files = append(out.files, f)
	}
	out.sorted = true
	return out
}

// Files returns the sorted files.
func (idx *FileIndex) Files() []RawFile {
	idx.Sort()
	return idx.files
}

// Count returns the total number of indexed files.
func (idx *FileIndex) Count() int {
	return len(idx.files)
}

// UniqueTimestamps returns the number of distinct nominal timestamps.
func (idx *FileIndex) UniqueTimestamps() int {
	seen := make(map[int64]struct{}, len(idx.files))
	for _, f := range idx.files {
		seen[f.Timestamp.UnixNano()] = struct{}{}
	}
	return len(seen)
}

// ValidateUnique returns ErrDuplicateTimestamp naming the first pair of files
// that share a timestamp.
func (idx *FileIndex) ValidateUnique() error {
	idx.Sort()
	for i := 1; i < len(idx.files); i++ {
		prev, cur := idx.files[i-1], idx.files[i]
		if prev.Timestamp.Equal(cur.Timestamp) {
			return fmt.Errorf("%w: %s and %s at %s", ErrDuplicateTimestamp,
				prev.Path, cur.Path, cur.Timestamp.Format(time.DateTime))
		}
	}
	return nil
}

// MinTimestamp returns the earliest timestamp in the index.
func (idx *FileIndex) MinTimestamp() time.Time {
	if len(idx.files) == 0 {
		return time.Time{}
	}
	idx.Sort()
	return idx.files[0].Timestamp
}

// MaxTimestamp returns the latest timestamp in the index.
func (idx *FileIndex) MaxTimestamp() time.Time {
	if len(idx.files) == 0 {
		return time.Time{}
	}
	idx.Sort()
	return idx.files[len(idx.files)-1].Timestamp
}

// Package storage opens input and output locations. A location is either a
// local path or a bucket URL (s3://, gs://, file://) served through gocloud
// blob. A .gz or .zst suffix selects transparent compression.
package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Compression applied to a location's bytes
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// Location is a parsed input or output location
type Location struct {
	Raw         string
	BucketURL   string // empty for local paths
	Key         string // object key, or the local path
	Compression Compression
}

// IsLocal reports whether the location is a plain filesystem path
func (l Location) IsLocal() bool {
	return l.BucketURL == ""
}

// BaseName returns the object name without directories or compression suffix
func (l Location) BaseName() string {
	name := path.Base(strings.ReplaceAll(l.Key, "\\", "/"))
	switch l.Compression {
	case CompressionGzip:
		return name[:len(name)-len(".gz")]
	case CompressionZstd:
		return name[:len(name)-len(".zst")]
	}
	return name
}

// Ext returns the lower-cased extension of BaseName, e.g. ".csv"
func (l Location) Ext() string {
	return strings.ToLower(path.Ext(l.BaseName()))
}

// ParseLocation splits raw into a bucket URL and key when it carries a
// scheme, and detects the compression suffix.
func ParseLocation(raw string) (Location, error) {
	if strings.TrimSpace(raw) == "" {
		return Location{}, fmt.Errorf("empty location")
	}

	loc := Location{Raw: raw, Key: raw}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, fmt.Errorf("invalid location %q: %w", raw, err)
		}

		switch u.Scheme {
		case "file":
			dir, name := path.Split(u.Path)
			if name == "" {
				return Location{}, fmt.Errorf("location %q has no object name", raw)
			}
			loc.BucketURL = "file://" + strings.TrimSuffix(dir, "/")
			if loc.BucketURL == "file://" {
				loc.BucketURL = "file:///"
			}
			loc.Key = name
		default:
			if u.Host == "" {
				return Location{}, fmt.Errorf("location %q has no bucket", raw)
			}
			key := strings.TrimPrefix(u.Path, "/")
			if key == "" {
				return Location{}, fmt.Errorf("location %q has no object key", raw)
			}
			bucket := u.Scheme + "://" + u.Host
			if u.RawQuery != "" {
				bucket += "?" + u.RawQuery
			}
			loc.BucketURL = bucket
			loc.Key = key
		}
	}

	lower := strings.ToLower(loc.Key)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		loc.Compression = CompressionGzip
	case strings.HasSuffix(lower, ".zst"):
		loc.Compression = CompressionZstd
	}

	return loc, nil
}

// SameTree reports whether raw sits in the directory of base or below it,
// on the same bucket. Paths escaping that directory with ".." are outside.
func SameTree(base, raw string) bool {
	b, err := ParseLocation(base)
	if err != nil {
		return false
	}
	c, err := ParseLocation(raw)
	if err != nil {
		return false
	}
	if b.BucketURL != c.BucketURL {
		return false
	}

	if b.IsLocal() {
		dir, err := filepath.Abs(filepath.Dir(b.Key))
		if err != nil {
			return false
		}
		target, err := filepath.Abs(c.Key)
		if err != nil {
			return false
		}
		rel, err := filepath.Rel(dir, target)
		if err != nil {
			return false
		}
		return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
	}

	key := strings.TrimPrefix(path.Clean("/"+c.Key), "/")
	if key == "" || key != c.Key {
		return false
	}
	dir := path.Dir(b.Key)
	if dir == "." {
		return true
	}
	return strings.HasPrefix(key, dir+"/")
}

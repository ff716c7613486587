package fsys

import (
	"io"
	"os"
	"time"
)

// FileStatus describes a filesystem entry. It is a plain value: adapters copy
// it and replace fields instead of wrapping it.
type FileStatus struct {
	// Path is qualified with the URI of the filesystem that produced it.
	// Chroot and merge adapters return it as an absolute path relative to
	// their own root instead.
	Path          string
	Length        int64
	IsDir         bool
	IsSymlink     bool
	SymlinkTarget string
	Replication   int16
	BlockSize     int64
	ModTime       time.Time
	AccessTime    time.Time
	Permission    os.FileMode
	Owner         string
	Group         string
	// Version is an opaque token that changes whenever the entry changes
	Version   string
	Locations []BlockLocation
}

// Copy returns a shallow copy with its own Locations slice
func (s *FileStatus) Copy() *FileStatus {
	c := *s
	if s.Locations != nil {
		c.Locations = append([]BlockLocation(nil), s.Locations...)
	}
	return &c
}

// WithPath returns a copy of s with Path replaced
func (s *FileStatus) WithPath(p string) *FileStatus {
	c := s.Copy()
	c.Path = p
	return c
}

// BlockLocation is one block of a file and the hosts holding it
type BlockLocation struct {
	Offset int64
	Length int64
	Hosts  []string
}

// AccessMode is a set of rwx bits checked by Access
type AccessMode uint8

const (
	AccessExecute AccessMode = 1 << iota
	AccessWrite
	AccessRead
)

func (m AccessMode) String() string {
	b := []byte("---")
	if m&AccessRead != 0 {
		b[0] = 'r'
	}
	if m&AccessWrite != 0 {
		b[1] = 'w'
	}
	if m&AccessExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// BlocksInRange keeps the blocks overlapping [start, start+length)
func BlocksInRange(locs []BlockLocation, start, length int64) []BlockLocation {
	end := start + length
	var out []BlockLocation
	for _, l := range locs {
		if l.Offset < end && l.Offset+l.Length > start {
			out = append(out, l)
		}
	}
	return out
}

// AclEntryScope is either access or default
type AclEntryScope int

const (
	AclScopeAccess AclEntryScope = iota
	AclScopeDefault
)

// AclEntryType is the principal class an entry applies to
type AclEntryType int

const (
	AclUser AclEntryType = iota
	AclGroup
	AclMask
	AclOther
)

// AclEntry is one access control entry. An empty Name is the unnamed
// owner/group entry.
type AclEntry struct {
	Scope      AclEntryScope
	Type       AclEntryType
	Name       string
	Permission os.FileMode
}

// SameKey reports whether two entries address the same principal
func (e AclEntry) SameKey(o AclEntry) bool {
	return e.Scope == o.Scope && e.Type == o.Type && e.Name == o.Name
}

// AclStatus is the ACL of an entry
type AclStatus struct {
	Owner      string
	Group      string
	StickyBit  bool
	Permission os.FileMode
	Entries    []AclEntry
}

// MinimalAcl returns the base user/group/other entries equivalent to perm
func MinimalAcl(perm os.FileMode) []AclEntry {
	return []AclEntry{
		{Scope: AclScopeAccess, Type: AclUser, Permission: (perm >> 6) & 7},
		{Scope: AclScopeAccess, Type: AclGroup, Permission: (perm >> 3) & 7},
		{Scope: AclScopeAccess, Type: AclOther, Permission: perm & 7},
	}
}

// XAttrSetFlag controls SetXAttr create/replace semantics
type XAttrSetFlag int

const (
	XAttrCreate XAttrSetFlag = 1 << iota
	XAttrReplace
)

// FileChecksum is a content checksum
type FileChecksum struct {
	Algorithm string
	Length    int64
	Bytes     []byte
}

// ContentSummary aggregates a directory tree
type ContentSummary struct {
	Length         int64
	FileCount      int64
	DirectoryCount int64
	Quota          int64
	SpaceConsumed  int64
	SpaceQuota     int64
}

// QuotaUsage reports namespace and space usage against quotas. -1 means no quota.
type QuotaUsage struct {
	FileAndDirectoryCount int64
	Quota                 int64
	SpaceConsumed         int64
	SpaceQuota            int64
}

// CreateOptions carries the optional parameters of create
type CreateOptions struct {
	Permission  os.FileMode
	Overwrite   bool
	Replication int16
	BlockSize   int64
}

// File is an open file. Write-only or read-only implementations return an
// error from the unsupported half.
type File interface {
	Name() string
	io.Reader
	io.ReaderAt
	io.Writer
	io.Seeker
	io.Closer
}

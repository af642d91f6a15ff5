// Package dirop implements the Directory Operation layer (C6): a flat
// textual name->inode list stored as a File Operation's content, and the
// mknode/unlink/lookup/readdir mutators built on top of it.
package dirop

import (
	"strconv"
	"strings"

	"github.com/distr1/chfs-go/internal/chfserr"
	"github.com/distr1/chfs-go/internal/fileop"
	"github.com/distr1/chfs-go/internal/inode"
)

// Entry is one name->inode pair in a directory's entry stream.
type Entry struct {
	Name string
	ID   uint64
}

// DirListToString serializes entries back to the wire format
// "name1:id1/name2:id2/.../nameK:idK" (spec §3).
func DirListToString(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Name + ":" + strconv.FormatUint(e.ID, 10)
	}
	return strings.Join(parts, "/")
}

// ParseDirectory parses src into its entry list. Malformed entries
// (spec I4, §9 #4: names may not contain '/' or ':') are the caller's
// responsibility to avoid; this parser treats both characters as pure
// delimiters.
func ParseDirectory(src string) []Entry {
	if src == "" {
		return nil
	}
	rawEntries := strings.Split(src, "/")
	entries := make([]Entry, 0, len(rawEntries))
	for _, raw := range rawEntries {
		name, idStr, _ := strings.Cut(raw, ":")
		id, _ := strconv.ParseUint(idStr, 10, 64)
		entries = append(entries, Entry{Name: name, ID: id})
	}
	return entries
}

// AppendToDirectory appends name:id to the entry stream src and returns
// the new stream.
func AppendToDirectory(src, name string, id uint64) string {
	entries := ParseDirectory(src)
	entries = append(entries, Entry{Name: name, ID: id})
	return DirListToString(entries)
}

// RmFromDirectory removes the first entry named name from src and returns
// the new stream.
func RmFromDirectory(src, name string) string {
	entries := ParseDirectory(src)
	for i, e := range entries {
		if e.Name == name {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return DirListToString(entries)
}

// Operations composes a FileOperation with the directory-entry-stream
// mutators to expose POSIX-shaped namespace primitives.
type Operations struct {
	Fo *fileop.FileOperation
}

// New wraps fo.
func New(fo *fileop.FileOperation) *Operations {
	return &Operations{Fo: fo}
}

// ReadDirectory reads id's content and parses it as an entry stream.
func (o *Operations) ReadDirectory(id uint64) ([]Entry, error) {
	content, err := o.Fo.ReadFile(id)
	if err != nil {
		return nil, err
	}
	return ParseDirectory(string(content)), nil
}

// Lookup returns the inode id of name inside directory id, or NotExist.
func (o *Operations) Lookup(id uint64, name string) (uint64, error) {
	entries, err := o.ReadDirectory(id)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.ID, nil
		}
	}
	return 0, chfserr.New(chfserr.NotExist)
}

// MkHelper creates a new inode of type typ named name inside directory
// parent, failing with AlreadyExist if name is already taken.
func (o *Operations) MkHelper(parent uint64, name string, typ inode.Type) (uint64, error) {
	entries, err := o.ReadDirectory(parent)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return 0, chfserr.New(chfserr.AlreadyExist)
		}
	}
	newID, err := o.Fo.AllocInode(typ)
	if err != nil {
		return 0, err
	}
	entries = append(entries, Entry{Name: name, ID: newID})
	if err := o.Fo.WriteFile(parent, []byte(DirListToString(entries))); err != nil {
		return 0, err
	}
	return newID, nil
}

// Unlink removes name from directory parent and frees its inode. NotExist
// when name is absent.
func (o *Operations) Unlink(parent uint64, name string) error {
	entries, err := o.ReadDirectory(parent)
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range entries {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return chfserr.New(chfserr.NotExist)
	}
	target := entries[idx].ID
	if err := o.Fo.RemoveFile(target); err != nil {
		return err
	}
	entries = append(entries[:idx], entries[idx+1:]...)
	return o.Fo.WriteFile(parent, []byte(DirListToString(entries)))
}

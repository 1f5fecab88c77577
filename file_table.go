package havoc

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// FileDescriptorType is the kind of object a descriptor slot refers to.
type FileDescriptorType int

const (
	FileDescriptorUninitialized FileDescriptorType = iota
	FileDescriptorSocket
	FileDescriptorFile
)

// String returns the name of the descriptor type.
func (t FileDescriptorType) String() string {
	switch t {
	case FileDescriptorUninitialized:
		return "uninitialized"
	case FileDescriptorSocket:
		return "socket"
	case FileDescriptorFile:
		return "file"
	default:
		return fmt.Sprintf("FileDescriptorType<%d>", int(t))
	}
}

// FileDescriptor represents one slot of a simulated descriptor table.
type FileDescriptor struct {
	Type     FileDescriptorType
	Domain   int64
	SockType int64
	Protocol int64
	Flags    int64
}

// Standard descriptor flags used when seeding stdin, stdout & stderr.
const (
	O_RDONLY = 0
	O_WRONLY = 1
)

// FileTable is a persistent descriptor table. Each update returns a new table
// so forked states share unchanged slots.
type FileTable struct {
	list *immutable.List
}

// NewFileTable returns a table seeded with stdin, stdout & stderr.
func NewFileTable() *FileTable {
	l := immutable.NewList()
	l = l.Append(FileDescriptor{Type: FileDescriptorFile, Flags: O_RDONLY})
	l = l.Append(FileDescriptor{Type: FileDescriptorFile, Flags: O_WRONLY})
	l = l.Append(FileDescriptor{Type: FileDescriptorFile, Flags: O_WRONLY})
	return &FileTable{list: l}
}

// Len returns the number of slots in the table, including closed ones.
func (t *FileTable) Len() int {
	return t.list.Len()
}

// Get returns the descriptor at fd. Returns false if fd is out of range.
func (t *FileTable) Get(fd int64) (FileDescriptor, bool) {
	if fd < 0 || fd >= int64(t.list.Len()) {
		return FileDescriptor{}, false
	}
	return t.list.Get(int(fd)).(FileDescriptor), true
}

// Set returns a new table with slot fd replaced. Grows the table with
// uninitialized slots if fd is beyond the end.
func (t *FileTable) Set(fd int64, d FileDescriptor) *FileTable {
	assert(fd >= 0, "file table: negative descriptor: %d", fd)
	l := t.list
	for int64(l.Len()) <= fd {
		l = l.Append(FileDescriptor{})
	}
	return &FileTable{list: l.Set(int(fd), d)}
}

// Open stores d in the first uninitialized slot, or appends a new slot if
// every slot is in use. Returns the slot index and the new table.
func (t *FileTable) Open(d FileDescriptor) (int64, *FileTable) {
	itr := t.list.Iterator()
	for !itr.Done() {
		i, v := itr.Next()
		if v.(FileDescriptor).Type == FileDescriptorUninitialized {
			return int64(i), &FileTable{list: t.list.Set(i, d)}
		}
	}
	return int64(t.list.Len()), &FileTable{list: t.list.Append(d)}
}

// Close returns a new table with slot fd reset to uninitialized.
// The slot itself is never removed.
func (t *FileTable) Close(fd int64) *FileTable {
	return t.Set(fd, FileDescriptor{})
}

// String returns a one-line-per-slot rendering of the table.
func (t *FileTable) String() string {
	var buf bytes.Buffer
	itr := t.list.Iterator()
	for !itr.Done() {
		i, v := itr.Next()
		d := v.(FileDescriptor)
		fmt.Fprintf(&buf, "%d %s", i, d.Type)
		if d.Type == FileDescriptorSocket {
			fmt.Fprintf(&buf, " domain=%d type=%d protocol=%d", d.Domain, d.SockType, d.Protocol)
		} else if d.Type == FileDescriptorFile {
			fmt.Fprintf(&buf, " flags=%#x", d.Flags)
		}
		fmt.Fprintln(&buf)
	}
	return buf.String()
}

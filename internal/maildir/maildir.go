// Package maildir implements the on-disk Maildir-style layout shared by the
// POP3 read side and the SMTP delivery write side: per-mailbox {new,tmp,cur}
// directories, a ctime-ordered snapshot of messages for a POP3 session, and
// atomic delivery of one message into one or more mailboxes.
//
// Directory initialization is delegated to github.com/emersion/go-maildir,
// the same maildir library the teacher's own dependency tree pulls in
// (via infodancer/msgstore/maildir). Scanning and delivery stay hand-rolled:
// see the doc comments on ScanNew and Deliver for why go-maildir's
// Messages/Unseen/NewDelivery calls do not fit this mailbox's lifecycle.
package maildir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	gomaildir "github.com/emersion/go-maildir"
)

// Entry describes one message file found under a mailbox's new directory.
type Entry struct {
	UID   string // base filename, the Maildir-unique identifier
	Size  int64
	CTime float64 // unix seconds, fractional
	Path  string
}

// Layout returns the three directories that make up a mailbox.
func Layout(mailsPath, mbox string) (newDir, tmpDir, curDir string) {
	base := filepath.Join(mailsPath, mbox)
	return filepath.Join(base, "new"), filepath.Join(base, "tmp"), filepath.Join(base, "cur")
}

// EnsureLayout creates the {new,tmp,cur} directories for mbox if they do not
// already exist, via gomaildir.Dir.Init. go-maildir owns directory creation
// here because that part of its API (unlike Messages/Unseen/NewDelivery,
// see ScanNew and Deliver) matches this package's needs exactly: three
// standard subdirectories, nothing mailbox-specific.
func EnsureLayout(mailsPath, mbox string) error {
	_, _, curDir := Layout(mailsPath, mbox)
	if _, err := os.Stat(curDir); err == nil {
		return nil
	}
	base := filepath.Join(mailsPath, mbox)
	if err := gomaildir.Dir(base).Init(); err != nil && !os.IsExist(err) {
		return fmt.Errorf("maildir: initializing %s: %w", base, err)
	}
	return nil
}

// ScanNew lists the regular files under <mailsPath>/<mbox>/new and stats
// each for size and ctime. No dot-stuffing or recursion.
//
// This does not go through gomaildir.Dir.Messages/Unseen. Those calls model
// IMAP-style mailboxes where an unread message is moved from new/ into cur/
// the first time it is observed (Unseen does the move; Messages only lists
// cur/ afterwards). This mailbox's messages stay in new/ permanently —
// confirmed by original_source/mail4one/smtp_test.py, which still finds
// delivered mail under new/ after a POP3 session has read it — and
// "deleted" is tracked purely in the sidecar file written by
// WriteDeletedItems, never a move or a remove. Calling Unseen would
// relocate files out of new/ the first time any client connects, which
// this mailbox's permanent-log model cannot allow. Nor does go-maildir
// expose ctime at all; ordering by ctime instead of mtime requires the
// raw syscall stat this function already does.
func ScanNew(mailsPath, mbox string) ([]Entry, error) {
	newDir, _, _ := Layout(mailsPath, mbox)

	dirEntries, err := os.ReadDir(newDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("maildir: reading %s: %w", newDir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("maildir: stat %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{
			UID:   de.Name(),
			Size:  info.Size(),
			CTime: ctimeSeconds(info),
			Path:  filepath.Join(newDir, de.Name()),
		})
	}
	return entries, nil
}

// List is a snapshot of a mailbox taken at one instant: an ordered vector of
// entries sorted by descending ctime (ties broken by stable input order),
// the nid -> entry map built from that order, and the set of uids deleted
// during this session.
//
// A nid absent from the map is either never-existed or deleted in this
// session; List never mutates its ordered vector in place, so Reset can
// always rebuild the live map from it.
type List struct {
	ordered []Entry        // nid i has ordered[i-1]
	live    map[int]Entry  // nid -> entry, shrinks as messages are deleted
	deleted map[string]bool // uids deleted during this session
}

// NewList builds a List from entries, excluding any whose UID is present in
// alreadyDeleted (the persisted deleted-items set). nid is assigned 1..N in
// ctime-descending order.
func NewList(entries []Entry, alreadyDeleted map[string]bool) *List {
	visible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if alreadyDeleted[e.UID] {
			continue
		}
		visible = append(visible, e)
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].CTime > visible[j].CTime
	})

	live := make(map[int]Entry, len(visible))
	for i, e := range visible {
		live[i+1] = e
	}

	return &List{ordered: visible, live: live, deleted: make(map[string]bool)}
}

// Get returns the entry for nid, or false if it was never present or has
// been deleted in this session.
func (l *List) Get(nid int) (Entry, bool) {
	e, ok := l.live[nid]
	return e, ok
}

// entryPair associates a live entry with its nid, for ordered iteration.
type entryPair struct {
	Nid   int
	Entry Entry
}

// GetAll returns the currently non-deleted entries in nid order.
func (l *List) GetAll() []entryPair {
	out := make([]entryPair, 0, len(l.live))
	for i := range l.ordered {
		nid := i + 1
		if e, ok := l.live[nid]; ok {
			out = append(out, entryPair{Nid: nid, Entry: e})
		}
	}
	return out
}

// Delete marks nid deleted: it is removed from the live map and its UID is
// recorded in the session's deleted set. Returns false if nid was already
// gone.
func (l *List) Delete(nid int) bool {
	e, ok := l.live[nid]
	if !ok {
		return false
	}
	delete(l.live, nid)
	l.deleted[e.UID] = true
	return true
}

// Reset discards all deletions made during this session by rebuilding the
// live map from the original ordered vector. Because of implicit-delete-on-
// RETR, this re-admits previously retrieved messages too.
func (l *List) Reset() {
	live := make(map[int]Entry, len(l.ordered))
	for i, e := range l.ordered {
		live[i+1] = e
	}
	l.live = live
	l.deleted = make(map[string]bool)
}

// Stat returns the count and total size in bytes of the currently live
// entries.
func (l *List) Stat() (count int, size int64) {
	for _, e := range l.live {
		count++
		size += e.Size
	}
	return count, size
}

// DeletedUIDs returns the UIDs marked deleted during this session.
func (l *List) DeletedUIDs() []string {
	uids := make([]string, 0, len(l.deleted))
	for uid := range l.deleted {
		uids = append(uids, uid)
	}
	return uids
}

// ReadFile reads the full content of a message by path.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("maildir: reading %s: %w", path, err)
	}
	return data, nil
}

// Deliver writes data into new/<filename> for every mailbox in mboxes under
// mailsPath, each copy staged in that mailbox's tmp/ and renamed into place
// (write-then-rename, atomic against readers). Partial fan-out (some mailboxes
// written, some not) is acceptable: delivery is best-effort per target.
//
// This does not go through gomaildir.NewDelivery. That call generates its
// own unique per-call key for the delivered file, which is exactly what a
// single mailbox wants but breaks this function's fan-out contract: one
// inbound message gets exactly one filename, shared verbatim across every
// target mailbox (grounded in original_source/mail4one/smtp.py, which
// builds one `filename = f"{uuid.uuid4()}.eml"` and shutil.copies it,
// unchanged, into each mailbox's new/). Calling NewDelivery once per
// mailbox would hand back a different key each time, so the same message
// would be filed under a different name in every mailbox it reaches.
func Deliver(mailsPath string, mboxes []string, filename string, data []byte) error {
	for _, mbox := range mboxes {
		if err := EnsureLayout(mailsPath, mbox); err != nil {
			return err
		}
	}

	for _, mbox := range mboxes {
		newDir, tmpDir, _ := Layout(mailsPath, mbox)
		if err := writeAtomic(tmpDir, newDir, filename, data); err != nil {
			return fmt.Errorf("maildir: delivering to %s: %w", mbox, err)
		}
	}
	return nil
}

// writeAtomic writes data to a temp file inside tmpDir, then renames it into
// finalDir/filename. The rename is atomic on the same filesystem, which is
// the Maildir guarantee that POP3's read-only view of new/ relies on.
func writeAtomic(tmpDir, finalDir, filename string, data []byte) error {
	tmpFile, err := os.CreateTemp(tmpDir, "deliver-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	finalPath := filepath.Join(finalDir, filename)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// DeletedItemsPath returns the path of the per-(mbox,username) deleted-uid
// file.
func DeletedItemsPath(mailsPath, mbox, username string) string {
	return filepath.Join(mailsPath, mbox, username)
}

// ReadDeletedItems reads the newline-separated set of UIDs considered
// deleted for (mbox, username). A missing file means an empty set.
func ReadDeletedItems(mailsPath, mbox, username string) (map[string]bool, error) {
	path := DeletedItemsPath(mailsPath, mbox, username)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("maildir: reading deleted-items %s: %w", path, err)
	}

	set := map[string]bool{}
	for _, line := range splitLines(string(data)) {
		if line != "" {
			set[line] = true
		}
	}
	return set, nil
}

// WriteDeletedItems rewrites the deleted-items file for (mbox, username)
// with the union of the existing set and newlyDeleted, atomically (write to
// a sibling temp file, then rename).
func WriteDeletedItems(mailsPath, mbox, username string, newlyDeleted []string) error {
	if len(newlyDeleted) == 0 {
		return nil
	}

	existing, err := ReadDeletedItems(mailsPath, mbox, username)
	if err != nil {
		return err
	}
	for _, uid := range newlyDeleted {
		existing[uid] = true
	}

	uids := make([]string, 0, len(existing))
	for uid := range existing {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	var content string
	for _, uid := range uids {
		content += uid + "\n"
	}

	dir := filepath.Join(mailsPath, mbox)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("maildir: creating %s: %w", dir, err)
	}
	if err := writeAtomic(dir, dir, filepath.Base(DeletedItemsPath(mailsPath, mbox, username)), []byte(content)); err != nil {
		return fmt.Errorf("maildir: persisting deleted-items for %s/%s: %w", mbox, username, err)
	}
	return nil
}

// ctimeSeconds extracts the inode change time from info, falling back to
// ModTime if the underlying system stat is unavailable. Maildir delivery
// order is defined by ctime, not mtime, since mtime can be forged by
// whatever wrote the message but ctime cannot.
func ctimeSeconds(info os.FileInfo) float64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return float64(stat.Ctim.Sec) + float64(stat.Ctim.Nsec)/1e9
	}
	return float64(info.ModTime().UnixNano()) / 1e9
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

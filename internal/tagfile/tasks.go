package tagfile

import (
	"context"
	"errors"
	"fmt"

	"github.com/tagbatch/tagbatch/internal/scheduler"
)

var (
	ErrReadAborted = errors.New("aborted reading tags")
	ErrSaveAborted = errors.New("aborted saving tags")
	errNoTrack     = errors.New("no tags were read")
)

// ReadTask reads the tags of one file.
type ReadTask struct {
	*scheduler.Base
	path  string
	locks *FileLocks
	track *Track
}

// NewReadTask creates a read task for path. locks may be nil.
func NewReadTask(path string, locks *FileLocks) *ReadTask {
	t := &ReadTask{Base: scheduler.NewBase(1), path: path, locks: locks}
	t.SetMessage(baseName(path))
	return t
}

// Path returns the file the task reads.
func (t *ReadTask) Path() string { return t.path }

// Track returns the result, or nil until the task has finished OK.
func (t *ReadTask) Track() *Track {
	if t.Status() != scheduler.TaskOK {
		return nil
	}
	return t.track
}

func (t *ReadTask) Run(ctx context.Context) error {
	if t.Aborted() || ctx.Err() != nil {
		return ErrReadAborted
	}

	unlock := t.locks.Lock(t.path)
	defer unlock()
	if t.Aborted() || ctx.Err() != nil {
		return ErrReadAborted
	}

	track, err := ReadTrack(t.path)
	if err != nil {
		return err
	}
	t.track = track
	t.SetProgress(1)
	return nil
}

// ReadTasks creates one read task per path, in order.
func ReadTasks(paths []string, locks *FileLocks) []*ReadTask {
	tasks := make([]*ReadTask, len(paths))
	for i, p := range paths {
		tasks[i] = NewReadTask(p, locks)
	}
	return tasks
}

// Cover is an image to embed as front cover.
type Cover struct {
	Data []byte
	MIME string
}

// SaveTask applies an edit to the track of its read task and writes it.
// It is connected to the read task, so a failed read fails the save without
// running it.
type SaveTask struct {
	*scheduler.Base
	read  *ReadTask
	edit  Edit
	cover *Cover
	locks *FileLocks
	saved bool
}

// NewSaveTask creates a save task connected to read. cover and locks may be nil.
func NewSaveTask(read *ReadTask, edit Edit, cover *Cover, locks *FileLocks) *SaveTask {
	t := &SaveTask{Base: scheduler.NewBase(1), read: read, edit: edit, cover: cover, locks: locks}
	t.SetMessage(baseName(read.path))
	t.Connect(read)
	return t
}

// Saved reports whether the file was written. Tracks the edit does not change
// finish OK without being written.
func (t *SaveTask) Saved() bool {
	return t.Status() == scheduler.TaskOK && t.saved
}

func (t *SaveTask) Run(ctx context.Context) error {
	if t.Aborted() || ctx.Err() != nil {
		return ErrSaveAborted
	}

	track := t.read.Track()
	if track == nil {
		return errNoTrack
	}

	unlock := t.locks.Lock(track.Path)
	defer unlock()
	if t.Aborted() || ctx.Err() != nil {
		return ErrSaveAborted
	}

	track.Apply(t.edit)
	if t.cover != nil {
		if err := track.SetCover(t.cover.Data, t.cover.MIME); err != nil {
			return fmt.Errorf("%s: %w", track.Name(), err)
		}
	}
	if track.Changed() {
		if err := track.Save(); err != nil {
			return err
		}
		t.saved = true
	}
	t.SetProgress(1)
	return nil
}

// SaveTasks creates one save task per read task, each connected to its read.
func SaveTasks(reads []*ReadTask, edit Edit, cover *Cover, locks *FileLocks) []*SaveTask {
	tasks := make([]*SaveTask, len(reads))
	for i, r := range reads {
		tasks[i] = NewSaveTask(r, edit, cover, locks)
	}
	return tasks
}

// Tracks returns the tracks of the read tasks that finished OK, in order.
func Tracks(reads []*ReadTask) []*Track {
	var out []*Track
	for _, r := range reads {
		if tr := r.Track(); tr != nil {
			out = append(out, tr)
		}
	}
	return out
}

// WouldChange returns the read tasks whose track the edit or cover modifies.
func WouldChange(reads []*ReadTask, edit Edit, cover *Cover) []*ReadTask {
	var out []*ReadTask
	for _, r := range reads {
		tr := r.Track()
		if tr == nil {
			continue
		}
		preview := *tr
		preview.Apply(edit)
		if cover != nil || preview.Changed() {
			out = append(out, r)
		}
	}
	return out
}

// AsTasks converts a typed task list for scheduler.NewManager.
func AsTasks[T scheduler.Task](list []T) []scheduler.Task {
	out := make([]scheduler.Task, len(list))
	for i, t := range list {
		out[i] = t
	}
	return out
}

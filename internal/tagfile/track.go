// Package tagfile reads and writes FLAC tags and wraps both operations as
// scheduler tasks.
package tagfile

import (
	"bufio"
	"errors"
	"fmt"
	_ "image/jpeg" // cover decoders for flacpicture
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// Tags holds the Vorbis comment fields a track exposes for editing.
type Tags struct {
	Artist      string
	AlbumArtist string
	Album       string
	Title       string
	Genre       string
	Year        string
	Track       string
	Disc        string
	Composer    string
	Comment     string
}

// Edit is a set of tag changes. Empty fields leave the track untouched.
type Edit Tags

// IsZero reports whether the edit changes nothing.
func (e Edit) IsZero() bool { return e == Edit{} }

type field struct {
	key string
	ptr func(*Tags) *string
}

var fields = []field{
	{flacvorbis.FIELD_ARTIST, func(t *Tags) *string { return &t.Artist }},
	{"ALBUMARTIST", func(t *Tags) *string { return &t.AlbumArtist }},
	{flacvorbis.FIELD_ALBUM, func(t *Tags) *string { return &t.Album }},
	{flacvorbis.FIELD_TITLE, func(t *Tags) *string { return &t.Title }},
	{flacvorbis.FIELD_GENRE, func(t *Tags) *string { return &t.Genre }},
	{flacvorbis.FIELD_DATE, func(t *Tags) *string { return &t.Year }},
	{flacvorbis.FIELD_TRACKNUMBER, func(t *Tags) *string { return &t.Track }},
	{"DISCNUMBER", func(t *Tags) *string { return &t.Disc }},
	{"COMPOSER", func(t *Tags) *string { return &t.Composer }},
	{"COMMENT", func(t *Tags) *string { return &t.Comment }},
}

func fieldFor(key string) (field, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.key, key) {
			return f, true
		}
	}
	return field{}, false
}

// Track is the tag state of one FLAC file.
type Track struct {
	Path string
	Tags

	CoverMIME string // Empty when the file has no picture block
	CoverSize int

	orig   Tags
	vendor string
	extra  []string // Comments not mapped to Tags, kept verbatim
	cover  *flacpicture.MetadataBlockPicture
}

// ReadTrack parses the tags and the first picture of a FLAC file.
// Audio frames are not read.
func ReadTrack(path string) (*Track, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readTrack(path, bufio.NewReader(file))
}

// readTrack parses the metadata blocks at the start of r and stops before
// the first audio frame.
func readTrack(path string, r io.Reader) (*Track, error) {
	f, err := flac.ParseMetadata(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	t := &Track{Path: path}
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return nil, fmt.Errorf("reading comments of %s: %w", path, err)
			}
			t.vendor = cmt.Vendor
			t.readComments(cmt.Comments)
		case flac.Picture:
			if t.CoverMIME != "" {
				continue
			}
			pic, err := flacpicture.ParseFromMetaDataBlock(*block)
			if err != nil {
				return nil, fmt.Errorf("reading picture of %s: %w", path, err)
			}
			t.CoverMIME = pic.MIME
			t.CoverSize = len(pic.ImageData)
		}
	}
	t.orig = t.Tags
	return t, nil
}

// readComments maps KEY=value pairs onto Tags. The first value of a key wins;
// repeats and unknown keys are kept for writing back.
func (t *Track) readComments(comments []string) {
	for _, c := range comments {
		key, value, ok := strings.Cut(c, "=")
		if !ok {
			t.extra = append(t.extra, c)
			continue
		}
		f, known := fieldFor(key)
		if !known {
			t.extra = append(t.extra, c)
			continue
		}
		if p := f.ptr(&t.Tags); *p == "" {
			*p = value
		} else {
			t.extra = append(t.extra, c)
		}
	}
}

// Apply sets every non-empty field of e.
func (t *Track) Apply(e Edit) {
	src := Tags(e)
	for _, f := range fields {
		if v := *f.ptr(&src); v != "" {
			*f.ptr(&t.Tags) = v
		}
	}
}

// SetCover replaces the front cover on the next Save.
func (t *Track) SetCover(data []byte, mime string) error {
	if len(data) == 0 {
		return errors.New("empty cover image")
	}
	pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front Cover", data, mime)
	if err != nil {
		return fmt.Errorf("decoding cover: %w", err)
	}
	t.cover = pic
	return nil
}

// Changed reports whether the track differs from the file on disk.
func (t *Track) Changed() bool {
	return t.Tags != t.orig || t.cover != nil
}

// Name returns the file name without its directory.
func (t *Track) Name() string {
	return baseName(t.Path)
}

// Save writes the tags back, replacing the comment block and, when a cover
// was set, every front cover picture. Other blocks and the audio are kept.
func (t *Track) Save() error {
	f, err := flac.ParseFile(t.Path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", t.Path, err)
	}

	cmtBlock := t.commentBlock().Marshal()
	var coverBlock *flac.MetaDataBlock
	if t.cover != nil {
		b := t.cover.Marshal()
		coverBlock = &b
	}

	meta := make([]*flac.MetaDataBlock, 0, len(f.Meta)+2)
	placed := false
	place := func() {
		if placed {
			return
		}
		meta = append(meta, &cmtBlock)
		if coverBlock != nil {
			meta = append(meta, coverBlock)
		}
		placed = true
	}
	for _, block := range f.Meta {
		switch {
		case block.Type == flac.VorbisComment:
			continue
		case block.Type == flac.Picture && coverBlock != nil && isFrontCover(block):
			continue
		case block.Type == flac.Padding:
			// Tags go before padding
			place()
		}
		meta = append(meta, block)
	}
	place()
	f.Meta = meta

	if err := f.Save(t.Path); err != nil {
		return fmt.Errorf("saving %s: %w", t.Path, err)
	}

	t.orig = t.Tags
	if t.cover != nil {
		t.CoverMIME = t.cover.MIME
		t.CoverSize = len(t.cover.ImageData)
		t.cover = nil
	}
	return nil
}

func (t *Track) commentBlock() *flacvorbis.MetaDataBlockVorbisComment {
	cmt := flacvorbis.New()
	if t.vendor != "" {
		cmt.Vendor = t.vendor
	}

	for _, c := range t.extra {
		key, _, _ := strings.Cut(c, "=")
		// Repeats of an edited field would contradict the new value
		if f, known := fieldFor(key); known && *f.ptr(&t.Tags) != *f.ptr(&t.orig) {
			continue
		}
		cmt.Comments = append(cmt.Comments, c)
	}
	for _, f := range fields {
		if v := *f.ptr(&t.Tags); v != "" {
			cmt.Add(f.key, v)
		}
	}
	return cmt
}

func isFrontCover(block *flac.MetaDataBlock) bool {
	pic, err := flacpicture.ParseFromMetaDataBlock(*block)
	return err == nil && pic.PictureType == flacpicture.PictureTypeFrontCover
}

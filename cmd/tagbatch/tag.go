package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tagbatch/tagbatch/internal/persistence"
	"github.com/tagbatch/tagbatch/internal/tagfile"
	"github.com/tagbatch/tagbatch/internal/tui"
)

type tagOptions struct {
	edit      tagfile.Edit
	coverPath string
	yes       bool
}

func newTagCmd(a *app) *cobra.Command {
	opts := &tagOptions{}

	cmd := &cobra.Command{
		Use:   "tag DIR",
		Short: "Set tags on every audio file in a directory",
		Long: "Reads all tracks of DIR, applies the given tags and saves the tracks that change.\n" +
			"Without tag flags a form asks for the values. With --yes, reading and saving run\n" +
			"as one batch in which each save waits for the read of its file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.openStore(ctx, false); err != nil {
				return err
			}
			defer a.closeStore()

			cover, err := loadCover(opts.coverPath)
			if err != nil {
				return err
			}
			if opts.yes {
				if opts.edit.IsZero() && cover == nil {
					return errors.New("--yes needs at least one tag flag or --cover")
				}
				return a.tagPipeline(ctx, args[0], opts.edit, cover)
			}
			return a.tagInteractive(ctx, args[0], opts.edit, cover)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.edit.Artist, "artist", "", "artist")
	f.StringVar(&opts.edit.AlbumArtist, "album-artist", "", "album artist")
	f.StringVar(&opts.edit.Album, "album", "", "album")
	f.StringVar(&opts.edit.Genre, "genre", "", "genre")
	f.StringVar(&opts.edit.Year, "year", "", "year")
	f.StringVar(&opts.coverPath, "cover", "", "image to embed as front cover (JPEG or PNG)")
	f.BoolVarP(&opts.yes, "yes", "y", false, "save without asking")
	return cmd
}

// tagInteractive reads first, asks for missing values and a confirmation,
// then saves the changed tracks in a second batch.
func (a *app) tagInteractive(ctx context.Context, dir string, edit tagfile.Edit, cover *tagfile.Cover) error {
	reads, res, err := a.readDir(ctx, dir)
	if err != nil {
		return err
	}
	if err := a.report(res, tagfile.ReadSummary(tagfile.AsTasks(reads), res.batch.Dir)); err != nil {
		if len(tagfile.Tracks(reads)) == 0 {
			return err
		}
		// Tag what could be read
		log.Printf("WARNING: %v", err)
	}

	if edit.IsZero() && cover == nil {
		if err := tui.NewEditForm(&edit, len(reads)).Run(); err != nil {
			return fmt.Errorf("reading tag values: %w", err)
		}
	}

	changed := tagfile.WouldChange(reads, edit, cover)
	if len(changed) == 0 {
		fmt.Fprintln(a.out, "All tracks are up to date")
		return nil
	}

	ok, err := tui.Confirm(fmt.Sprintf("Save %d track(s)?", len(changed)), res.batch.Dir)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "Nothing saved")
		return nil
	}

	saves := tagfile.SaveTasks(changed, edit, cover, tagfile.NewFileLocks())
	paths := make([]string, len(changed))
	for i, r := range changed {
		paths[i] = r.Path()
	}
	saveRes, err := a.runBatch(ctx, persistence.KindSave, res.batch.Dir, "Saving tags", tagfile.AsTasks(saves), paths)
	if err != nil {
		return err
	}
	return a.report(saveRes, tagfile.SaveSummary(saves))
}

// tagPipeline runs reads and connected saves as a single batch.
func (a *app) tagPipeline(ctx context.Context, dir string, edit tagfile.Edit, cover *tagfile.Cover) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	paths, err := tagfile.Scan(abs, a.cfg.Extensions)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w in %s", errNoFiles, abs)
	}

	locks := tagfile.NewFileLocks()
	reads := tagfile.ReadTasks(paths, locks)
	saves := tagfile.SaveTasks(reads, edit, cover, locks)

	tasks := append(tagfile.AsTasks(reads), tagfile.AsTasks(saves)...)
	res, err := a.runBatch(ctx, persistence.KindTag, abs, "Tagging", tasks, append(paths, paths...))
	if err != nil {
		return err
	}
	return a.report(res, tagfile.SaveSummary(saves))
}

func loadCover(path string) (*tagfile.Cover, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cover: %w", err)
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt != "image/png" && mt != "image/jpeg" {
		return nil, fmt.Errorf("cover %s: unsupported image type %q", path, mt)
	}
	return &tagfile.Cover{Data: data, MIME: mt}, nil
}

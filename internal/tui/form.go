package tui

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/tagbatch/tagbatch/internal/tagfile"
)

// NewEditForm builds a form that fills edit. Fields left empty are not changed.
func NewEditForm(edit *tagfile.Edit, tracks int) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Edit tags").
				Description(fmt.Sprintf("Applies to %d track(s). Empty fields are left unchanged.", tracks)),
			huh.NewInput().
				Title("Artist").
				Value(&edit.Artist),
			huh.NewInput().
				Title("Album artist").
				Value(&edit.AlbumArtist),
			huh.NewInput().
				Title("Album").
				Value(&edit.Album),
			huh.NewInput().
				Title("Genre").
				Value(&edit.Genre),
			huh.NewInput().
				Title("Year").
				Validate(validateYear).
				Value(&edit.Year),
		),
	)
}

func validateYear(s string) error {
	if s == "" {
		return nil
	}
	if _, err := strconv.Atoi(s); err != nil || len(s) != 4 {
		return errors.New("year must have four digits")
	}
	return nil
}

// Confirm asks a yes/no question and returns the answer.
func Confirm(title, description string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("running confirm prompt: %w", err)
	}
	return ok, nil
}

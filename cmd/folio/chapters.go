package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"folio/state"
	"folio/store"
)

func openStore(ctx context.Context) (*store.Store, error) {
	env := state.EnvFromContext(ctx)
	return store.Open(env.Cfg.Store.Path, env.Log)
}

func listChapters(ctx context.Context, cmd *cli.Command) error {
	bookID := cmd.Args().Get(0)
	if bookID == "" {
		return errors.New("no book has been specified")
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.List(ctx, bookID, cmd.String("parent"))
	if err != nil {
		return err
	}
	for _, ch := range rows {
		flags := ""
		if ch.IsFirstPage {
			flags += " [first page]"
		}
		if ch.IsCover {
			flags += " [cover]"
		}
		fmt.Printf("%s\torder=%d\tversion=%d\t%s%s\n", ch.ID, ch.Order, ch.Version, ch.Title, flags)
	}
	return nil
}

func addChapter(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	bookID, src := cmd.Args().Get(0), cmd.Args().Get(1)
	if bookID == "" || src == "" {
		return errors.New("both book and source file must be specified")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("unable to read chapter content from %q: %w", src, err)
	}

	ch := &store.Chapter{
		BookID:       bookID,
		ParentID:     cmd.String("parent"),
		Title:        cmd.String("title"),
		Content:      string(data),
		IsFirstPage:  cmd.Bool("first-page"),
		IsCover:      cmd.Bool("cover"),
		IncludeTitle: true,
	}
	if path := cmd.String("epigraph"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to read epigraph from %q: %w", path, err)
		}
		ch.Epigraph = string(data)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Create(ctx, ch); err != nil {
		return err
	}
	env.Log.Info("Chapter created", zap.String("id", ch.ID), zap.String("book", bookID))
	fmt.Println(ch.ID)
	return nil
}

func updateChapter(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	id := cmd.Args().Get(0)
	if id == "" {
		return errors.New("no chapter has been specified")
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	ch, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	expected := ch.Version
	if cmd.IsSet("version") {
		expected = int64(cmd.Int("version"))
	}
	if title := cmd.String("title"); title != "" {
		ch.Title = title
	}
	if src := cmd.Args().Get(1); src != "" {
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("unable to read chapter content from %q: %w", src, err)
		}
		ch.Content = string(data)
	}

	if err := st.Update(ctx, ch, expected); err != nil {
		var conflict *store.VersionConflictError
		if errors.As(err, &conflict) {
			// surfaced to the operator, deciding what wins is not our call
			return fmt.Errorf("chapter %q was modified concurrently, stored version is now %d", id, conflict.Current)
		}
		return err
	}
	env.Log.Info("Chapter updated", zap.String("id", id), zap.Int64("version", ch.Version))
	return nil
}

func deleteChapter(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().Get(0)
	if id == "" {
		return errors.New("no chapter has been specified")
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Delete(ctx, id)
}

func reorderChapters(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return errors.New("no chapters have been specified")
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Reorder(ctx, ids)
}

package book

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"folio/epub"
	"folio/state"
	"folio/store"
)

// Import extracts chapters from an EPUB file and creates them in the store
// under a single book.
func Import(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("import")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input source has been specified")
	}
	if src, err = filepath.Abs(src); err != nil {
		return err
	}

	log.Info("Import starting", zap.String("source", src))
	defer func(start time.Time) {
		log.Info("Import completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	bk, err := epub.Read(src, env.Log)
	if err != nil {
		return err
	}
	if len(bk.Chapters) == 0 {
		return fmt.Errorf("no chapters found in %q", src)
	}

	bookID := cmd.String("book")
	if bookID == "" {
		bookID = slug.Make(bk.Title)
	}
	if bookID == "" {
		bookID = slug.Make(strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)))
	}
	if bk.Language != "" && !strings.EqualFold(bk.Language, env.Cfg.Document.Language) {
		log.Warn("Book language differs from configured document language",
			zap.String("book", bk.Language), zap.String("configured", env.Cfg.Document.Language))
	}

	st, err := store.Open(env.Cfg.Store.Path, env.Log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()

	for i := range bk.Chapters {
		src := &bk.Chapters[i]
		title := src.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		ch := &store.Chapter{
			BookID:       bookID,
			Title:        title,
			Content:      src.HTML,
			IncludeTitle: true,
		}
		if err := st.Create(ctx, ch); err != nil {
			return fmt.Errorf("chapter %q: %w", src.Path, err)
		}
	}

	log.Info("Book imported", zap.String("book", bookID), zap.Int("chapters", len(bk.Chapters)))
	return nil
}

// Package book wires the chapter store to the pagination engine and
// implements the heavy CLI actions.
package book

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"folio/config"
	"folio/content"
	"folio/content/text"
	"folio/css"
	"folio/paginate"
	"folio/state"
	"folio/store"
)

// pageSideMargin is the horizontal whitespace the reader keeps on each side
// of the text column.
const pageSideMargin = 24

// Paginate recalculates pages for a stored book and writes the result as
// JSON.
func Paginate(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("paginate")

	bookID := cmd.Args().Get(0)
	if len(bookID) == 0 {
		return errors.New("no book has been specified")
	}
	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	env.Overwrite = cmd.Bool("overwrite")

	st, err := store.Open(env.Cfg.Store.Path, env.Log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()

	chapters, err := loadChapters(ctx, st, bookID)
	if err != nil {
		return err
	}
	if len(chapters) == 0 {
		return fmt.Errorf("book %q has no chapters", bookID)
	}

	width, height := pageDims(env.Cfg, cmd)
	log.Info("Processing starting", zap.String("book", bookID), zap.Int("width", width), zap.Int("height", height))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	p, err := newPaginator(cmd, env, width, height)
	if err != nil {
		return err
	}

	res, err := p.CalculatePages(ctx, chapters, parseResume(cmd.String("resume"), log))
	if err != nil {
		return err
	}
	p.HyphenatePages(res)

	title := bookTitle(chapters, bookID)
	out := buildOutputPath(Values{
		Title:    title,
		BookID:   bookID,
		Language: env.Cfg.Document.Language,
		Date:     time.Now().Format("2006-01-02"),
		Pages:    len(res.Pages),
		Chapters: len(chapters),
	}, dst, env)

	return writeResult(out, res, env)
}

// newPaginator assembles the engine from configuration and flags.
func newPaginator(cmd *cli.Command, env *state.LocalEnv, width, height int) (*paginate.Paginator, error) {
	measurer, err := paginate.NewTextMeasurer(width-2*pageSideMargin, env.Log)
	if err != nil {
		return nil, err
	}

	profile := css.DefaultProfile()
	if path := env.Cfg.Document.StyleProfilePath; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read style profile from %q: %w", path, err)
		}
		profile = css.Parse(data, env.Log)
	}

	var hyph *text.Hyphenator
	if env.Cfg.Document.Hyphenation.Enable {
		hyph = text.NewHyphenator(env.Cfg.Document.Hyphenation.DictionaryPath, env.Log)
	}

	assets := cmd.String("assets")
	if assets == "" {
		assets = filepath.Dir(env.Cfg.Store.Path)
	}

	return paginate.New(paginate.Options{
		Measurer:   measurer,
		Profile:    profile,
		Sentences:  text.NewSplitter(language.Make(env.Cfg.Document.Language), env.Log),
		Hyphenator: hyph,
		Prober:     content.NewImageProber(assets, env.Log),
		PageWidth:  width,
		PageHeight: height,
		Log:        env.Log,
	})
}

// pageDims picks page dimensions: fixed layout always uses the configured
// viewport, fluid layout lets flags shrink or grow it per device.
func pageDims(cfg *config.Config, cmd *cli.Command) (int, int) {
	width, height := cfg.Viewport.Width, cfg.Viewport.Height
	if cfg.Viewport.Layout.IsFluid() {
		if w := cmd.Int("width"); w > 0 {
			width = w
		}
		if h := cmd.Int("height"); h > 0 {
			height = h
		}
	}
	return width, height
}

// parseResume interprets a CHAPTER:PAGE resume specification.
func parseResume(spec string, log *zap.Logger) *paginate.Position {
	if spec == "" {
		return nil
	}
	chapter, pageStr, ok := strings.Cut(spec, ":")
	if !ok || chapter == "" {
		log.Warn("Malformed resume position, ignoring", zap.String("resume", spec))
		return nil
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		log.Warn("Malformed resume page, ignoring", zap.String("resume", spec))
		return nil
	}
	return &paginate.Position{ChapterID: chapter, PageIndex: page}
}

// loadChapters reads a whole book from the store in pagination input form.
func loadChapters(ctx context.Context, st *store.Store, bookID string) ([]content.Chapter, error) {
	rows, err := st.List(ctx, bookID, "")
	if err != nil {
		return nil, err
	}
	out := make([]content.Chapter, 0, len(rows))
	for _, row := range rows {
		ch := content.Chapter{
			ID:                 row.ID,
			Title:              row.Title,
			Order:              row.Order,
			HTML:               row.Content,
			Epigraph:           row.Epigraph,
			IsFirstPage:        row.IsFirstPage,
			IsCover:            row.IsCover,
			IncludeTitle:       row.IncludeTitle,
			BackgroundImageURL: row.BackgroundImageURL,
		}
		subs, err := st.List(ctx, bookID, row.ID)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			ch.Subchapters = append(ch.Subchapters, content.Subchapter{
				ID:       sub.ID,
				Title:    sub.Title,
				Order:    sub.Order,
				HTML:     sub.Content,
				Epigraph: sub.Epigraph,
			})
		}
		out = append(out, ch)
	}
	return out, nil
}

// bookTitle picks a human readable book name for output templating: the
// first page's title when present, the first chapter's otherwise.
func bookTitle(chapters []content.Chapter, fallback string) string {
	for i := range chapters {
		if chapters[i].IsFirstPage && chapters[i].Title != "" {
			return chapters[i].Title
		}
	}
	for i := range chapters {
		if chapters[i].Title != "" {
			return chapters[i].Title
		}
	}
	return fallback
}

func writeResult(fname string, res *paginate.Result, env *state.LocalEnv) error {
	if _, err := os.Stat(fname); err == nil && !env.Overwrite {
		return fmt.Errorf("destination file %q already exists", fname)
	}
	if err := os.MkdirAll(filepath.Dir(fname), 0700); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal pagination result: %w", err)
	}
	if err := os.WriteFile(fname, data, 0644); err != nil {
		return fmt.Errorf("unable to write pagination result: %w", err)
	}
	env.Log.Info("Pagination result written", zap.String("file", fname), zap.Int("pages", len(res.Pages)))
	return nil
}

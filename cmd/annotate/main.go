// Command annotate edits marker-embedded documents on disk. Each command
// loads FILE, applies one edit and writes FILE back while holding an
// exclusive lock on FILE.lock. The id high-water mark and document metadata
// live next to it in FILE.meta.json.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"qanun/api/internal/annotate"
	"qanun/api/internal/gitrepo"
	"qanun/api/internal/span"
	"qanun/api/internal/store"
)

const (
	metaSuffix = ".meta.json"
	lockSuffix = ".lock"
)

var CLI struct {
	Show         ShowCmd         `cmd:"" help:"List the spans of a document"`
	Add          AddCmd          `cmd:"" help:"Add a span"`
	Update       UpdateCmd       `cmd:"" help:"Change fields of a span"`
	Delete       DeleteCmd       `cmd:"" help:"Delete a span"`
	Move         MoveCmd         `cmd:"" help:"Re-anchor a span"`
	ReplaceText  ReplaceTextCmd  `cmd:"" name:"replace-text" help:"Replace a text range and rebase spans"`
	FixOffsets   FixOffsetsCmd   `cmd:"" name:"fix-offsets" help:"Recompute offsets from the markers"`
	Import       ImportCmd       `cmd:"" help:"Build a marker document from text and extracted entities"`
	ExportSQLite ExportSQLiteCmd `cmd:"" name:"export-sqlite" help:"Write documents into a SQLite database"`
}

type ShowCmd struct {
	File string `arg:"" help:"Marker document" type:"existingfile"`
	JSON bool   `help:"Print spans as JSON"`
}

func (c *ShowCmd) Run(out io.Writer) error {
	doc, err := loadDocument(c.File)
	if err != nil {
		return err
	}
	spans := doc.store.All()
	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(spans)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTART\tEND\tSRC\tTEXT")
	for _, sp := range spans {
		src := string(sp.Provenance)
		if src == "" {
			src = "model"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", sp.ID, sp.Type, sp.Start, sp.End, src, doc.store.Slice(sp.Start, sp.End))
	}
	return tw.Flush()
}

type AddCmd struct {
	File  string `arg:"" help:"Marker document" type:"existingfile"`
	Start int    `arg:"" help:"Start offset"`
	End   int    `arg:"" help:"End offset"`
	Type  string `arg:"" help:"Entity type"`
	Norm  string `help:"Normalized value"`
}

func (c *AddCmd) Run(out io.Writer) error {
	req := annotate.Request{Action: annotate.ActionAdd, Start: &c.Start, End: &c.End, Type: &c.Type}
	if c.Norm != "" {
		req.Norm = &c.Norm
	}
	return edit(out, c.File, req)
}

type UpdateCmd struct {
	File  string  `arg:"" help:"Marker document" type:"existingfile"`
	ID    string  `arg:"" help:"Span id"`
	Start *int    `help:"New start offset"`
	End   *int    `help:"New end offset"`
	Type  *string `help:"New entity type"`
	Norm  *string `help:"New normalized value"`
}

func (c *UpdateCmd) Run(out io.Writer) error {
	return edit(out, c.File, annotate.Request{
		Action: annotate.ActionUpdate,
		ID:     c.ID,
		Start:  c.Start,
		End:    c.End,
		Type:   c.Type,
		Norm:   c.Norm,
	})
}

type DeleteCmd struct {
	File string `arg:"" help:"Marker document" type:"existingfile"`
	ID   string `arg:"" help:"Span id"`
}

func (c *DeleteCmd) Run(out io.Writer) error {
	return edit(out, c.File, annotate.Request{Action: annotate.ActionDelete, ID: c.ID})
}

type MoveCmd struct {
	File  string `arg:"" help:"Marker document" type:"existingfile"`
	ID    string `arg:"" help:"Span id"`
	Start int    `arg:"" help:"New start offset"`
	End   int    `arg:"" help:"New end offset"`
}

func (c *MoveCmd) Run(out io.Writer) error {
	return edit(out, c.File, annotate.Request{Action: annotate.ActionMove, ID: c.ID, Start: &c.Start, End: &c.End})
}

type ReplaceTextCmd struct {
	File  string `arg:"" help:"Marker document" type:"existingfile"`
	Start int    `arg:"" help:"Start of the replaced range"`
	End   int    `arg:"" help:"End of the replaced range"`
	Text  string `arg:"" help:"Replacement text" optional:""`
}

func (c *ReplaceTextCmd) Run(out io.Writer) error {
	return edit(out, c.File, annotate.Request{Action: annotate.ActionReplace, Start: &c.Start, End: &c.End, Text: &c.Text})
}

type FixOffsetsCmd struct {
	File string `arg:"" help:"Marker document" type:"existingfile"`
}

func (c *FixOffsetsCmd) Run(out io.Writer) error {
	return edit(out, c.File, annotate.Request{Action: annotate.ActionFixOffsets})
}

type ImportCmd struct {
	Text     string `arg:"" help:"Plain text file" type:"existingfile"`
	Entities string `arg:"" help:"Extraction JSON with entities and metadata" type:"existingfile"`
	Out      string `required:"" short:"o" help:"Marker document to write" type:"path"`
	Force    bool   `help:"Overwrite an existing output file"`
}

func (c *ImportCmd) Run(out io.Writer) error {
	unlock, err := lockFile(c.Out)
	if err != nil {
		return err
	}
	defer unlock()

	if !c.Force {
		if _, err := os.Stat(c.Out); err == nil {
			return fmt.Errorf("%s already exists (use --force)", c.Out)
		}
	}
	text, err := os.ReadFile(c.Text)
	if err != nil {
		return err
	}
	f, err := os.Open(c.Entities)
	if err != nil {
		return err
	}
	defer f.Close()
	ext, err := annotate.ReadExtraction(f)
	if err != nil {
		return err
	}

	st, report, err := annotate.Ingest(string(text), ext.Entities)
	if err != nil {
		return err
	}
	var relations json.RawMessage
	if len(ext.Relations) > 0 {
		if relations, err = json.Marshal(ext.Relations); err != nil {
			return err
		}
	}
	doc := &document{
		path:  c.Out,
		store: st,
		meta: gitrepo.Meta{
			Title:     firstNonEmpty(ext.Metadata.ShortTitle, ext.Metadata.OfficialTitle, strings.TrimSuffix(filepath.Base(c.Out), filepath.Ext(c.Out))),
			DocNumber: ext.Metadata.DocumentNumber,
			DocType:   ext.Metadata.DocumentType,
			Relations: relations,
		},
	}
	if err := doc.save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d spans into %s\n", len(st.All()), c.Out)
	reportList(out, "realigned", report.Realigned)
	reportList(out, "dropped", report.Dropped)
	reportList(out, "duplicate", report.Duplicates)
	reportList(out, "conflicting", report.Conflicts)
	return nil
}

type ExportSQLiteCmd struct {
	DB    string   `required:"" help:"SQLite database to write" type:"path"`
	Files []string `arg:"" help:"Marker documents" type:"existingfile"`
}

func (c *ExportSQLiteCmd) Run(ctx context.Context, out io.Writer) error {
	docs := make([]store.SQLiteDocument, 0, len(c.Files))
	for _, path := range c.Files {
		doc, err := loadDocument(path)
		if err != nil {
			return err
		}
		row, err := doc.sqliteRow()
		if err != nil {
			return err
		}
		docs = append(docs, row)
	}
	if err := store.ExportSQLite(ctx, c.DB, docs); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d documents to %s\n", len(docs), c.DB)
	return nil
}

// document is a marker file plus its sidecar metadata.
type document struct {
	path  string
	store *span.Store
	meta  gitrepo.Meta
}

func loadDocument(path string) (*document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta gitrepo.Meta
	metaRaw, err := os.ReadFile(path + metaSuffix)
	switch {
	case err == nil:
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return nil, fmt.Errorf("read %s%s: %w", path, metaSuffix, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	st, err := span.Load(string(raw), meta.NextID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &document{path: path, store: st, meta: meta}, nil
}

func (d *document) save() error {
	encoded, err := d.store.Encode()
	if err != nil {
		return err
	}
	d.meta.NextID = d.store.NextID()
	d.meta.Fingerprint = d.store.Fingerprint()
	metaRaw, err := json.MarshalIndent(d.meta, "", "  ")
	if err != nil {
		return err
	}
	// Metadata first, so a crash in between leaves the high-water mark ahead
	// of the ids in the document and never behind them.
	if err := writeFile(d.path+metaSuffix, append(metaRaw, '\n')); err != nil {
		return err
	}
	return writeFile(d.path, []byte(encoded))
}

func (d *document) sqliteRow() (store.SQLiteDocument, error) {
	row := store.SQLiteDocument{
		FileName:   filepath.Base(d.path),
		DocNumber:  d.meta.DocNumber,
		ShortTitle: d.meta.Title,
		DocType:    d.meta.DocType,
	}
	for _, sp := range d.store.All() {
		text := d.store.Slice(sp.Start, sp.End)
		canonical, _ := annotate.CanonicalNum(firstNonEmpty(sp.Normalized, text))
		row.Entities = append(row.Entities, store.Entity{
			EntID:        sp.ID,
			Type:         sp.Type,
			Text:         text,
			StartChar:    sp.Start,
			EndChar:      sp.End,
			Normalized:   sp.Normalized,
			CanonicalNum: canonical,
			Provenance:   string(sp.Provenance),
		})
	}
	if len(d.meta.Relations) > 0 {
		var relations []annotate.Relation
		if err := json.Unmarshal(d.meta.Relations, &relations); err != nil {
			return store.SQLiteDocument{}, fmt.Errorf("%s: relations: %w", d.path, err)
		}
		for _, r := range relations {
			row.Relations = append(row.Relations, store.Relation{
				RelationID: r.RelationID,
				Type:       r.Type,
				SourceID:   r.SourceID,
				TargetID:   r.TargetID,
			})
		}
	}
	return row, nil
}

// edit applies req to the document at path and writes it back. The file is
// left untouched when the request fails.
func edit(out io.Writer, path string, req annotate.Request) error {
	unlock, err := lockFile(path)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := loadDocument(path)
	if err != nil {
		return err
	}
	next, res, err := annotate.Apply(doc.store, req)
	if err != nil {
		return err
	}
	doc.store = next
	if err := doc.save(); err != nil {
		return err
	}
	switch {
	case req.Action == annotate.ActionAdd:
		fmt.Fprintf(out, "added %s\n", res.ID)
	case res.Message != "":
		fmt.Fprintf(out, "warning: %s: %s\n", res.Message, strings.Join(res.Removed, ", "))
	default:
		fmt.Fprintf(out, "%s: ok\n", req.Action)
	}
	return nil
}

// writeFile replaces path via a temporary file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func reportList(out io.Writer, label string, ids []string) {
	if len(ids) > 0 {
		fmt.Fprintf(out, "%s: %s\n", label, strings.Join(ids, ", "))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("annotate"),
		kong.Description("Edit entity markers in annotated legal texts"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.BindTo(context.Background(), (*context.Context)(nil)),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

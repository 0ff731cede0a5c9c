package main

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"bookkeep/internal/core"
	"bookkeep/internal/draft"
	"bookkeep/internal/remote"
)

type saveFlags struct {
	id          int64
	flow        string
	amount      string
	category    string
	payment     string
	attribution string
	note        string
	date        string
	attach      []string
	remove      []string
}

func newSaveCmd(s *session) *cobra.Command {
	f := &saveFlags{}
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a record, uploading receipts and removing attachments",
		Example: `  bookkeep save --flow expense --amount 12.50 --category Food --date 2025-03-01 --attach receipt.jpg
  bookkeep save --id 42 --remove att-42-1.jpg --attach new.jpg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.draft(cmd, s)
			if err != nil {
				return err
			}
			out, err := s.app.Records.Save(cmd.Context(), d)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out.Queued {
				fmt.Fprintf(w, "offline: queued as %s\n", out.OutboxID)
				return nil
			}
			res := out.Result
			fmt.Fprintf(w, "saved record %d\n", res.Record.ID)
			for _, name := range res.Record.Attachments {
				fmt.Fprintf(w, "  %s\t%s\n", name, s.app.Images.ImageURL(name))
			}
			if notice := res.Notice(); notice != "" {
				fmt.Fprintln(w, notice)
				for _, fe := range res.Failures {
					fmt.Fprintf(w, "  %v\n", fe)
				}
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.Int64Var(&f.id, "id", 0, "record id to update (omit to create)")
	fl.StringVar(&f.flow, "flow", string(core.Expense), "flow type: income, expense or unaccounted")
	fl.StringVar(&f.amount, "amount", "", "amount, e.g. 12.50")
	fl.StringVar(&f.category, "category", "", "category")
	fl.StringVar(&f.payment, "payment", "", "payment method")
	fl.StringVar(&f.attribution, "attribution", "", "attribution")
	fl.StringVar(&f.note, "note", "", "free-text note")
	fl.StringVar(&f.date, "date", "", "date as YYYY-MM-DD")
	fl.StringSliceVar(&f.attach, "attach", nil, "image files to attach")
	fl.StringSliceVar(&f.remove, "remove", nil, "uploaded attachment names to remove")
	return cmd
}

// scalarFlags are the record fields a queued update replaces wholesale.
var scalarFlags = []string{"flow", "amount", "date", "category", "payment", "attribution", "note"}

// draft builds the editing session: the stored record when updating online,
// with changed flags applied on top, then removals and new images. Offline the
// stored record cannot be loaded, so an update must name every field.
func (f *saveFlags) draft(cmd *cobra.Command, s *session) (draft.Draft, error) {
	ctx := cmd.Context()
	rec := core.Record{ID: f.id, BookID: s.cfg.BookID}
	changed := cmd.Flags().Changed

	if f.id != 0 && s.app.Gate.Offline(ctx) {
		var missing []string
		for _, name := range scalarFlags {
			if !changed(name) {
				missing = append(missing, "--"+name)
			}
		}
		if len(missing) > 0 {
			return draft.Draft{}, fmt.Errorf("offline update of record %d must set every field, missing %s",
				f.id, strings.Join(missing, " "))
		}
	} else if f.id != 0 {
		recs, err := s.app.Backend.Remote.ListRecordsByFilter(ctx, remote.Filter{BookID: s.cfg.BookID, RecordID: f.id})
		if err != nil {
			return draft.Draft{}, fmt.Errorf("load record %d: %w", f.id, err)
		}
		if len(recs) == 0 {
			return draft.Draft{}, fmt.Errorf("record %d not found", f.id)
		}
		rec = recs[0]
	}

	if f.id == 0 || changed("flow") {
		flow, err := core.ParseFlowType(f.flow)
		if err != nil {
			return draft.Draft{}, err
		}
		rec.Flow = flow
	}
	if f.id == 0 || changed("amount") {
		m, err := core.ParseAmount(f.amount)
		if err != nil {
			return draft.Draft{}, err
		}
		rec.Amount = m
	}
	if f.id == 0 || changed("date") {
		d, err := core.ParseDate(f.date)
		if err != nil {
			return draft.Draft{}, err
		}
		rec.Date = d
	}
	if f.id == 0 || changed("category") {
		rec.Category = f.category
	}
	if f.id == 0 || changed("payment") {
		rec.PaymentMethod = f.payment
	}
	if f.id == 0 || changed("attribution") {
		rec.Attribution = f.attribution
	}
	if f.id == 0 || changed("note") {
		rec.Note = f.note
	}

	d := draft.New(rec)
	for _, name := range f.remove {
		d = d.MarkForDeletion(core.Uploaded(name))
	}
	for _, p := range f.attach {
		abs, err := filepath.Abs(p)
		if err != nil {
			return draft.Draft{}, err
		}
		d, _ = d.Stage(draft.Image{
			FileName:    filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			URI:         "file://" + filepath.ToSlash(abs),
			Path:        abs,
		})
	}
	return d, nil
}

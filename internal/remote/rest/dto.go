package rest

import (
	"bookkeep/internal/core"
)

// recordDTO is the wire shape of a record. Amounts travel as decimal strings
// so no precision is lost on either side.
type recordDTO struct {
	ID            int64    `json:"id,omitempty"`
	BookID        int64    `json:"bookId"`
	FlowType      string   `json:"flowType"`
	Amount        string   `json:"amount"`
	Category      string   `json:"category"`
	PaymentMethod string   `json:"paymentMethod,omitempty"`
	Attribution   string   `json:"attribution,omitempty"`
	Note          string   `json:"note,omitempty"`
	Date          string   `json:"date"`
	Attachments   []string `json:"attachments"`
}

func toDTO(r core.Record) recordDTO {
	atts := r.Attachments
	if atts == nil {
		atts = []string{}
	}
	return recordDTO{
		ID:            r.ID,
		BookID:        r.BookID,
		FlowType:      string(r.Flow),
		Amount:        r.Amount.String(),
		Category:      r.Category,
		PaymentMethod: r.PaymentMethod,
		Attribution:   r.Attribution,
		Note:          r.Note,
		Date:          r.Date.String(),
		Attachments:   atts,
	}
}

func (d recordDTO) record() (core.Record, error) {
	flow, err := core.ParseFlowType(d.FlowType)
	if err != nil {
		return core.Record{}, err
	}
	r := core.Record{
		ID:            d.ID,
		BookID:        d.BookID,
		Flow:          flow,
		Category:      d.Category,
		PaymentMethod: d.PaymentMethod,
		Attribution:   d.Attribution,
		Note:          d.Note,
		Attachments:   d.Attachments,
	}
	if d.Amount != "" {
		if r.Amount, err = core.ParseAmount(d.Amount); err != nil {
			return core.Record{}, err
		}
	}
	if d.Date != "" {
		if r.Date, err = core.ParseDate(d.Date); err != nil {
			return core.Record{}, err
		}
	}
	return r, nil
}

package billing

import (
	"context"

	"schedbill/internal/docstore"
)

// InvoiceService owns invoice CRUD. Invoices are armed only by the
// recurrence engine (first firing is requested explicitly); deletion makes
// sure no job outlives the document.
type InvoiceService struct {
	docs  docstore.Store
	coord *Coordinator
}

func NewInvoiceService(docs docstore.Store, coord *Coordinator) *InvoiceService {
	return &InvoiceService{docs: docs, coord: coord}
}

func (s *InvoiceService) Find(ctx context.Context, id string) (docstore.Invoice, error) {
	return s.docs.FindInvoice(ctx, id)
}

func (s *InvoiceService) Create(ctx context.Context, inv docstore.Invoice) (docstore.Invoice, error) {
	inv.ID = ""
	if err := s.docs.SaveInvoice(ctx, &inv); err != nil {
		return docstore.Invoice{}, err
	}
	return inv, nil
}

// Update replaces the stored invoice. A periodicity change needs no trigger
// surgery: the next firing reads current state and re-arms itself.
func (s *InvoiceService) Update(ctx context.Context, inv docstore.Invoice) (docstore.Invoice, error) {
	if _, err := s.docs.FindInvoice(ctx, inv.ID); err != nil {
		return docstore.Invoice{}, err
	}
	if err := s.docs.SaveInvoice(ctx, &inv); err != nil {
		return docstore.Invoice{}, err
	}
	return inv, nil
}

// Delete unschedules the invoice's recurrence before removing the document.
func (s *InvoiceService) Delete(ctx context.Context, id string) error {
	inv, err := s.docs.FindInvoice(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.coord.UnscheduleInvoice(ctx, inv); err != nil {
		return err
	}
	return s.docs.DeleteInvoice(ctx, id)
}

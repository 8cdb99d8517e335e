package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/clinicpay/internal/catalog/domain"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/pkg/money"
	"gorm.io/gorm"
)

func (s *Service) AddServiceItem(ctx context.Context, invoiceID snowflake.ID, req domain.AddItemRequest, actor domain.Actor) (*domain.InvoiceDetail, error) {
	return s.addItem(ctx, invoiceID, domain.ItemTypeService, req, actor)
}

func (s *Service) AddMedicineItem(ctx context.Context, invoiceID snowflake.ID, req domain.AddItemRequest, actor domain.Actor) (*domain.InvoiceDetail, error) {
	return s.addItem(ctx, invoiceID, domain.ItemTypeMedicine, req, actor)
}

// AddVisitItem adds a line to the visit's invoice, opening the invoice when
// the visit has none. The invoice and its first line commit together, so a
// rejected line leaves no invoice behind.
func (s *Service) AddVisitItem(ctx context.Context, visitID snowflake.ID, itemType domain.ItemType, req domain.AddItemRequest, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if visitID == 0 {
		return nil, domain.ErrInvalidVisitID
	}
	draft, err := s.draftItem(ctx, itemType, req, actor)
	if err != nil {
		return nil, err
	}
	visit, err := s.lookupVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "add_visit_item", func(tx *gorm.DB, eff *effects) error {
		d, err := s.openInvoice(ctx, tx, eff, visitID, visit.PatientID, actor)
		if err != nil {
			return err
		}
		if err := s.insertItem(ctx, tx, eff, d, draft, actor); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

// itemDraft is a validated line with the catalog name and price resolved.
type itemDraft struct {
	itemType domain.ItemType
	entry    *catalogdomain.Entry
	quantity int64
	price    decimal.Decimal
	notes    *string
}

func (s *Service) draftItem(ctx context.Context, itemType domain.ItemType, req domain.AddItemRequest, actor domain.Actor) (itemDraft, error) {
	if req.ItemID == 0 {
		return itemDraft{}, domain.ErrInvalidItemID
	}
	if !actor.Valid() {
		return itemDraft{}, domain.ErrInvalidActor
	}
	if req.Quantity < 0 {
		return itemDraft{}, domain.ErrInvalidQuantity
	}
	if req.UnitPrice != nil && !validPrice(*req.UnitPrice, s.scale()) {
		return itemDraft{}, domain.ErrInvalidUnitPrice
	}

	entry, err := s.lookupCatalog(ctx, itemType, req.ItemID)
	if err != nil {
		return itemDraft{}, err
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = entry.DefaultQuantity
	}
	if quantity <= 0 {
		quantity = 1
	}
	price := entry.UnitPrice
	if req.UnitPrice != nil {
		price = *req.UnitPrice
	}
	if price.IsNegative() {
		return itemDraft{}, domain.ErrInvalidUnitPrice
	}
	return itemDraft{itemType: itemType, entry: entry, quantity: quantity, price: price, notes: req.Notes}, nil
}

// addItem snapshots the catalog name and price into a new invoice line.
func (s *Service) addItem(ctx context.Context, invoiceID snowflake.ID, itemType domain.ItemType, req domain.AddItemRequest, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	draft, err := s.draftItem(ctx, itemType, req, actor)
	if err != nil {
		return nil, err
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "add_item", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := s.insertItem(ctx, tx, eff, d, draft, actor); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

func (s *Service) insertItem(ctx context.Context, tx *gorm.DB, eff *effects, d *domain.InvoiceDetail, draft itemDraft, actor domain.Actor) error {
	if err := domain.CheckMutable(d.Invoice.Status, "add item to"); err != nil {
		return err
	}

	scale := s.scale()
	before := snapshot(&d.Invoice)
	item := domain.InvoiceItem{
		ID:        s.genID.Generate(),
		InvoiceID: d.Invoice.ID,
		ItemType:  draft.itemType,
		ItemID:    draft.entry.ID,
		ItemName:  draft.entry.Name,
		Quantity:  draft.quantity,
		UnitPrice: money.Round(draft.price, scale),
		Notes:     optionalText(draft.notes),
		AddedBy:   actor.ID,
		CreatedAt: eff.at,
		UpdatedAt: eff.at,
	}
	item.PriceLine(scale)
	if err := s.repo.InsertItem(ctx, tx, &item); err != nil {
		return err
	}
	d.Items = append(d.Items, item)
	if err := s.save(ctx, tx, d, eff.at); err != nil {
		return err
	}

	eff.record(invoiceEvent(actor, "invoice.item_added", &d.Invoice, before,
		with(snapshot(&d.Invoice), "item", itemSnapshot(item)), ""))
	return nil
}

func (s *Service) UpdateInvoiceItem(ctx context.Context, invoiceID, itemID snowflake.ID, patch domain.ItemPatch, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if itemID == 0 {
		return nil, domain.ErrInvalidItemID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	if patch.Empty() {
		return nil, domain.ErrEmptyPatch
	}
	if patch.Quantity != nil && *patch.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	scale := s.scale()
	if patch.UnitPrice != nil && !validPrice(*patch.UnitPrice, scale) {
		return nil, domain.ErrInvalidUnitPrice
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "update_item", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := domain.CheckMutable(d.Invoice.Status, "update item on"); err != nil {
			return err
		}
		idx := findItem(d.Items, itemID)
		if idx < 0 {
			return domain.ErrItemNotFound
		}

		item := &d.Items[idx]
		previous := *item
		before := with(snapshot(&d.Invoice), "item", itemSnapshot(previous))
		if patch.Quantity != nil {
			item.Quantity = *patch.Quantity
		}
		if patch.UnitPrice != nil {
			item.UnitPrice = money.Round(*patch.UnitPrice, scale)
		}
		if patch.Notes != nil {
			item.Notes = optionalText(patch.Notes)
		}
		item.UpdatedAt = eff.at
		item.PriceLine(scale)
		if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
			return err
		}
		if err := s.save(ctx, tx, d, eff.at); err != nil {
			return err
		}

		eff.record(invoiceEvent(actor, "invoice.item_updated", &d.Invoice, before,
			with(snapshot(&d.Invoice), "item", itemSnapshot(*item)), ""))
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

// RemoveInvoiceItem deletes a line. Doctors may only do so while the visit's
// consultation is still active.
func (s *Service) RemoveInvoiceItem(ctx context.Context, invoiceID, itemID snowflake.ID, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if itemID == 0 {
		return nil, domain.ErrInvalidItemID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}

	if actor.Role == domain.RoleDoctor {
		invoice, err := s.repo.FindInvoice(ctx, s.db, invoiceID)
		if err != nil {
			return nil, s.classify("find_invoice", err)
		}
		if invoice == nil {
			return nil, domain.ErrInvoiceNotFound
		}
		active, err := s.visits.IsConsultationActive(ctx, invoice.VisitID)
		if err != nil {
			return nil, s.classify("consultation_status", err)
		}
		if !active {
			return nil, domain.ErrItemRemovalForbidden
		}
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "remove_item", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := domain.CheckMutable(d.Invoice.Status, "remove item from"); err != nil {
			return err
		}
		idx := findItem(d.Items, itemID)
		if idx < 0 {
			return domain.ErrItemNotFound
		}

		removed := d.Items[idx]
		before := with(snapshot(&d.Invoice), "item", itemSnapshot(removed))
		if err := s.repo.DeleteItem(ctx, tx, invoiceID, itemID); err != nil {
			return err
		}
		d.Items = append(d.Items[:idx], d.Items[idx+1:]...)
		if err := s.save(ctx, tx, d, eff.at); err != nil {
			return err
		}

		eff.record(invoiceEvent(actor, "invoice.item_removed", &d.Invoice, before, snapshot(&d.Invoice), ""))
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

// UpdateDiscount replaces the discount. Setting neither amount nor
// percentage clears it.
func (s *Service) UpdateDiscount(ctx context.Context, invoiceID snowflake.ID, req domain.DiscountRequest, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	discount, err := s.discountFrom(req)
	if err != nil {
		return nil, err
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "update_discount", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := domain.CheckMutable(d.Invoice.Status, "discount"); err != nil {
			return err
		}

		before := snapshot(&d.Invoice)
		d.Invoice.SetDiscount(discount)
		if err := s.save(ctx, tx, d, eff.at); err != nil {
			return err
		}

		eff.record(invoiceEvent(actor, "invoice.discount_updated", &d.Invoice, before, snapshot(&d.Invoice), ""))
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

func (s *Service) discountFrom(req domain.DiscountRequest) (domain.Discount, error) {
	switch {
	case req.Amount != nil && req.Percentage != nil:
		return domain.Discount{}, domain.ErrDiscountConflict
	case req.Amount != nil:
		if money.HasExcessPrecision(*req.Amount, s.scale()) {
			return domain.Discount{}, domain.ErrInvalidDiscount
		}
		return domain.FixedDiscount(*req.Amount)
	case req.Percentage != nil:
		return domain.PercentageDiscount(*req.Percentage)
	}
	return domain.NoDiscount(), nil
}

func findItem(items []domain.InvoiceItem, id snowflake.ID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func validPrice(price decimal.Decimal, scale int32) bool {
	return !price.IsNegative() && !money.HasExcessPrecision(price, scale)
}

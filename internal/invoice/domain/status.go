package domain

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusOnHold    InvoiceStatus = "on_hold"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// OutstandingStatuses are the statuses that count toward the patient cap.
var OutstandingStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusPartial,
	InvoiceStatusOnHold,
}

// transitions lists every legal status change. Terminal statuses have no entry
// and a status never transitions to itself.
var transitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	InvoiceStatusPending: {
		InvoiceStatusPartial:   true,
		InvoiceStatusPaid:      true,
		InvoiceStatusOnHold:    true,
		InvoiceStatusCancelled: true,
	},
	InvoiceStatusPartial: {
		InvoiceStatusPaid:      true,
		InvoiceStatusOnHold:    true,
		InvoiceStatusCancelled: true,
	},
	InvoiceStatusOnHold: {
		InvoiceStatusPending:   true,
		InvoiceStatusPartial:   true,
		InvoiceStatusPaid:      true,
		InvoiceStatusCancelled: true,
	},
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusOnHold, InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further mutation is permitted.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// IsOutstanding reports whether the invoice still represents patient debt.
func (s InvoiceStatus) IsOutstanding() bool {
	return s.Valid() && !s.IsTerminal()
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to InvoiceStatus) bool {
	return transitions[from][to]
}

// CheckMutable rejects item, discount and payment changes on terminal invoices.
func CheckMutable(status InvoiceStatus, op string) error {
	if status.IsTerminal() {
		return &StateConflictError{Status: status, Operation: op, Err: ErrTerminalState}
	}
	return nil
}

// CheckTransition validates from -> to for op.
func CheckTransition(from, to InvoiceStatus, op string) error {
	if from.IsTerminal() {
		return &StateConflictError{Status: from, Operation: op, Err: ErrTerminalState}
	}
	if !CanTransition(from, to) {
		return &StateConflictError{Status: from, Operation: op, Err: ErrInvalidTransition}
	}
	return nil
}

package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	invoicedomain "github.com/smallbiznis/clinicpay/internal/invoice/domain"
)

// bindJSON decodes and validates the request body. An empty body is accepted
// when optional is set.
func bindJSON(c *gin.Context, req any, optional bool) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			AbortWithError(c, invalidRequestError())
			return false
		}
	}
	if v, ok := req.(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			AbortWithError(c, fromOzzo(err))
			return false
		}
	}
	return true
}

func (s *Server) CreateInvoice(c *gin.Context) {
	visitID, err := pathID(c, "visit_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	detail, err := s.invoiceSvc.CreateInvoice(c.Request.Context(), visitID, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": detail})
}

func (s *Server) GetInvoiceByVisit(c *gin.Context) {
	visitID, err := pathID(c, "visit_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	detail, err := s.invoiceSvc.GetInvoiceByVisit(c.Request.Context(), visitID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	detail, err := s.invoiceSvc.GetInvoiceByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) AddServiceItem(c *gin.Context) {
	s.addItem(c, invoicedomain.ItemTypeService)
}

func (s *Server) AddMedicineItem(c *gin.Context) {
	s.addItem(c, invoicedomain.ItemTypeMedicine)
}

func (s *Server) addItem(c *gin.Context, itemType invoicedomain.ItemType) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.addItemTo(c, id, itemType)
}

// AddVisitServiceItem creates the visit's invoice on first use.
func (s *Server) AddVisitServiceItem(c *gin.Context) {
	s.addVisitItem(c, invoicedomain.ItemTypeService)
}

func (s *Server) AddVisitMedicineItem(c *gin.Context) {
	s.addVisitItem(c, invoicedomain.ItemTypeMedicine)
}

func (s *Server) addVisitItem(c *gin.Context, itemType invoicedomain.ItemType) {
	visitID, err := pathID(c, "visit_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	in, ok := bindAddItem(c)
	if !ok {
		return
	}

	detail, err := s.invoiceSvc.AddVisitItem(c.Request.Context(), visitID, itemType, in, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": detail})
}

func (s *Server) addItemTo(c *gin.Context, invoiceID snowflake.ID, itemType invoicedomain.ItemType) {
	in, ok := bindAddItem(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var (
		detail *invoicedomain.InvoiceDetail
		err    error
	)
	if itemType == invoicedomain.ItemTypeMedicine {
		detail, err = s.invoiceSvc.AddMedicineItem(ctx, invoiceID, in, actorFrom(c))
	} else {
		detail, err = s.invoiceSvc.AddServiceItem(ctx, invoiceID, in, actorFrom(c))
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": detail})
}

func bindAddItem(c *gin.Context) (invoicedomain.AddItemRequest, bool) {
	var req addItemRequest
	if !bindJSON(c, &req, false) {
		return invoicedomain.AddItemRequest{}, false
	}
	in, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return invoicedomain.AddItemRequest{}, false
	}
	return in, true
}

func (s *Server) UpdateInvoiceItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	itemID, err := pathID(c, "item_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updateItemRequest
	if !bindJSON(c, &req, false) {
		return
	}

	detail, err := s.invoiceSvc.UpdateInvoiceItem(c.Request.Context(), id, itemID, invoicedomain.ItemPatch{
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Notes:     req.Notes,
	}, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) RemoveInvoiceItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	itemID, err := pathID(c, "item_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	detail, err := s.invoiceSvc.RemoveInvoiceItem(c.Request.Context(), id, itemID, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) UpdateDiscount(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req discountRequest
	if !bindJSON(c, &req, true) {
		return
	}

	detail, err := s.invoiceSvc.UpdateDiscount(c.Request.Context(), id, invoicedomain.DiscountRequest{
		Amount:     req.Amount,
		Percentage: req.Percentage,
	}, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) RecordPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req paymentRequest
	if !bindJSON(c, &req, false) {
		return
	}
	dueDate, err := parseOptionalDate(req.DueDate)
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvalidDueDate)
		return
	}

	result, err := s.invoiceSvc.RecordPayment(c.Request.Context(), id, invoicedomain.PaymentRequest{
		Amount:                 req.Amount,
		Method:                 invoicedomain.PaymentMethod(req.Method),
		Reference:              req.Reference,
		Notes:                  req.Notes,
		HoldReason:             req.HoldReason,
		DueDate:                dueDate,
		IncludePreviousBalance: req.IncludePreviousBalance,
	}, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) CompleteInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req completeRequest
	if !bindJSON(c, &req, true) {
		return
	}

	result, err := s.invoiceSvc.CompleteInvoice(c.Request.Context(), id, invoicedomain.CompleteRequest{
		Method:    invoicedomain.PaymentMethod(req.Method),
		Reference: req.Reference,
		Notes:     req.Notes,
	}, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelRequest
	if !bindJSON(c, &req, false) {
		return
	}

	detail, err := s.invoiceSvc.CancelInvoice(c.Request.Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) PutInvoiceOnHold(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req holdRequest
	if !bindJSON(c, &req, false) {
		return
	}
	dueDate, err := parseOptionalDate(req.DueDate)
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvalidDueDate)
		return
	}

	detail, err := s.invoiceSvc.PutInvoiceOnHold(c.Request.Context(), id, invoicedomain.HoldRequest{
		Reason:  req.Reason,
		DueDate: dueDate,
	}, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) ResumeInvoiceFromHold(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	detail, err := s.invoiceSvc.ResumeInvoiceFromHold(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/pkg/db/pagination"
)

func (s *Server) ListPatientInvoices(c *gin.Context) {
	patientID, err := pathID(c, "patient_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var query listPatientInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := query.Validate(); err != nil {
		AbortWithError(c, fromOzzo(err))
		return
	}

	resp, err := s.invoiceSvc.ListPatientInvoices(c.Request.Context(), invoicedomain.ListPatientInvoicesRequest{
		PatientID: patientID,
		Status:    query.status(),
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetPatientOutstanding(c *gin.Context) {
	patientID, err := pathID(c, "patient_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	outstanding, err := s.invoiceSvc.GetPatientOutstandingBalance(c.Request.Context(), patientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": outstanding})
}

func (s *Server) CanPatientCreateInvoice(c *gin.Context) {
	patientID, err := pathID(c, "patient_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	eligibility, err := s.invoiceSvc.CanPatientCreateInvoice(c.Request.Context(), patientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": eligibility})
}

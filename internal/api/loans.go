package api

import (
	"errors"
	"net/http"

	"bookflow/internal/auth"
	"bookflow/library"
)

// ListLoans returns loan views, newest loan date first. Query parameters
// status, from and to narrow the result.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := library.LoanFilter{Status: library.LoanStatus(q.Get("status"))}
	var err error
	if f.From, err = library.ParseDate(q.Get("from")); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	if f.To, err = library.ParseDate(q.Get("to")); err != nil {
		h.writeLibError(w, r, err)
		return
	}

	loans, err := h.lib.ListLoans(r.Context(), auth.PrincipalFrom(r.Context()), f)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.lib.GetLoan(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// CreateLoan lends a book to the caller, or to userId when the caller is an
// admin.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var in library.LoanInput
	if err := decodeJSON(r, &in, false); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	loan, err := h.lib.OpenLoan(r.Context(), auth.PrincipalFrom(r.Context()), in)
	if err != nil {
		if errors.Is(err, library.ErrBookBorrowed) {
			h.metrics.LoanConflicts.Inc()
		}
		h.writeLibError(w, r, err)
		return
	}
	h.metrics.LoansOpened.Inc()
	h.log.WithContext(r.Context()).LoanLog("opened", loan.ID, loan.BookID, loan.UserID)
	writeJSON(w, http.StatusCreated, loan)
}

type returnRequest struct {
	ReturnDate library.Date `json:"returnDate"`
}

// ReturnLoan closes a loan. The body is optional; without returnDate the
// loan is returned today.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	loan, err := h.lib.ReturnLoan(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("id"), req.ReturnDate)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	h.metrics.LoansReturned.Inc()
	h.log.WithContext(r.Context()).LoanLog("returned", loan.ID, loan.BookID, loan.UserID)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Stats returns catalog and loan counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lib.Stats(r.Context())
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

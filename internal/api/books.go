package api

import (
	"net/http"

	"bookflow/internal/auth"
	"bookflow/library"
)

// ListBooks returns the catalog, optionally filtered by ?status=.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	f := library.BookFilter{Status: library.BookStatus(r.URL.Query().Get("status"))}
	books, err := h.lib.ListBooks(r.Context(), f)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	if books == nil {
		books = []library.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.lib.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// CreateBook adds a book. Any status in the body is ignored.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var in library.BookInput
	if err := decodeJSON(r, &in, false); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	book, err := h.lib.AddBook(r.Context(), auth.PrincipalFrom(r.Context()), in)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// UpdateBook applies a partial update to the catalog fields.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var patch library.BookPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	book, err := h.lib.UpdateBook(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.DeleteBook(r.Context(), auth.PrincipalFrom(r.Context()), r.PathValue("id")); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
